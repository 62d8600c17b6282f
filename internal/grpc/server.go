package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/yourusername/ledger/internal/blockchain"
	"github.com/yourusername/ledger/internal/storage"
	"github.com/yourusername/ledger/pkg/types"
)

// Server exposes a Blockchain over gRPC
type Server struct {
	bc         *blockchain.Blockchain
	logger     *zap.Logger
	grpcServer *grpc.Server
}

var _ LedgerServer = (*Server)(nil)

// NewServer creates a new gRPC server for bc
func NewServer(bc *blockchain.Blockchain, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		bc:         bc,
		logger:     logger,
		grpcServer: grpc.NewServer(),
	}
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s
}

// Start listens on address and serves until Stop is called
func (s *Server) Start(address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve accepts connections on lis until Stop is called
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
	return s.grpcServer.Serve(lis)
}

// Stop waits for in-flight calls and stops the server
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

// AddBlock seals the request payload into a new block. Sealing is not
// interrupted when the caller's context is cancelled.
func (s *Server) AddBlock(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	hash, err := s.bc.AddBlock(req.GetValue())
	if err != nil {
		s.logger.Error("add block failed", zap.Error(err))
		return nil, toStatus(err)
	}
	return wrapperspb.String(hash), nil
}

// TipHash returns the hash of the latest block
func (s *Server) TipHash(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return wrapperspb.String(s.bc.TipHash()), nil
}

// Blocks streams the chain from the tip to genesis
func (s *Server) Blocks(_ *emptypb.Empty, stream grpc.ServerStream) error {
	it := s.bc.Iterator()
	for {
		block, ok := it.Next()
		if !ok {
			break
		}
		data, err := types.EncodeBlock(block)
		if err != nil {
			return toStatus(err)
		}
		if err := stream.SendMsg(wrapperspb.Bytes(data)); err != nil {
			return err
		}
	}
	if err := it.Err(); err != nil {
		s.logger.Error("block stream ended early", zap.Error(err))
		return toStatus(err)
	}
	return nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, blockchain.ErrCorrupted):
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, storage.ErrStore), errors.Is(err, types.ErrClock):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
