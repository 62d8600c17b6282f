package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/yourusername/ledger/pkg/types"
)

// Client calls a remote ledger service
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a ledger server at address without transport security
func Dial(address string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.Dial(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing connection
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the underlying connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// AddBlock appends payload to the remote ledger and returns the new hash
func (c *Client) AddBlock(ctx context.Context, payload string) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, addBlockMethod, wrapperspb.String(payload), out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// TipHash returns the remote ledger's tip
func (c *Client) TipHash(ctx context.Context) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, tipHashMethod, &emptypb.Empty{}, out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// Blocks fetches the remote chain from the tip to genesis
func (c *Client) Blocks(ctx context.Context) ([]*types.Block, error) {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], blocksMethod)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	var blocks []*types.Block
	for {
		msg := new(wrapperspb.BytesValue)
		err := stream.RecvMsg(msg)
		if errors.Is(err, io.EOF) {
			return blocks, nil
		}
		if err != nil {
			return nil, err
		}

		block, err := types.DecodeBlock(msg.GetValue())
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
}
