// ABOUTME: gRPC interceptors that run the gate on incoming calls
// ABOUTME: Per-method requirements; denials map to Unauthenticated, PermissionDenied, ResourceExhausted, Unavailable

package middleware

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/2389/plangate/internal/auth"
	"github.com/2389/plangate/internal/decisionlog"
	"github.com/2389/plangate/internal/gate"
)

// Policy lists what each full method name ("/pkg.Service/Method") requires.
// Methods not listed only require authentication; Public methods skip the gate.
type Policy struct {
	Methods map[string]gate.Requirement
	Public  []string
}

func (p Policy) lookup(method string) (gate.Requirement, bool) {
	for _, m := range p.Public {
		if m == method {
			return gate.Requirement{}, false
		}
	}
	return p.Methods[method], true
}

// logDenial logs a rejected call with the peer address for security monitoring.
func logDenial(ctx context.Context, logger *slog.Logger, method string, d gate.Decision) {
	attrs := []any{"method", method, "reason", string(d.Cause), "correlation_id", d.CorrelationID}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		attrs = append(attrs, "peer_addr", p.Addr.String())
	}
	logger.Warn("call denied", attrs...)
}

func grpcCode(o gate.Outcome) codes.Code {
	switch o {
	case gate.DenyUnauthenticated:
		return codes.Unauthenticated
	case gate.DenyInsufficientTier:
		return codes.PermissionDenied
	case gate.DenyQuotaExceeded:
		return codes.ResourceExhausted
	default:
		return codes.Unavailable
	}
}

func (m *Decorators) authorize(ctx context.Context, method string, policy Policy) (context.Context, error) {
	req, gated := policy.lookup(method)
	if !gated {
		return ctx, nil
	}

	md, _ := metadata.FromIncomingContext(ctx)
	if id := first(md, "x-correlation-id", "x-request-id"); id != "" && decisionlog.CorrelationID(ctx) == "" {
		ctx = decisionlog.WithCorrelationID(ctx, id)
	}
	ctx, _ = decisionlog.EnsureCorrelationID(ctx)

	d := m.gate.CheckMetadata(ctx, md, req)
	if !d.Allowed() {
		logDenial(ctx, m.logger, method, d)
		_, body := Denial(d, "")
		return ctx, status.Errorf(grpcCode(d.Outcome), "%s: %s (correlation id %s)", body.ErrorCode, body.Error, d.CorrelationID)
	}
	ctx = auth.WithAuth(ctx, d.AuthContext())
	if d.Reservation != nil {
		ctx = gate.WithReservation(ctx, *d.Reservation)
	}
	return ctx, nil
}

// settle keeps a reserved use when the handler succeeded and releases it otherwise.
func (m *Decorators) settle(ctx context.Context, handlerErr error) {
	res, ok := gate.ReservationFromContext(ctx)
	if !ok {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if handlerErr == nil {
		m.gate.CommitUsage(ctx, res)
		return
	}
	if err := m.gate.ReleaseUsage(ctx, res); err != nil {
		m.logger.Error("usage not released", "account_id", res.AccountID, "feature", res.Feature, "error", err)
	}
}

func first(md metadata.MD, keys ...string) string {
	for _, k := range keys {
		if v := md.Get(k); len(v) > 0 && v[0] != "" {
			return v[0]
		}
	}
	return ""
}

// UnaryInterceptor returns a gRPC unary interceptor that gates calls by policy.
func (m *Decorators) UnaryInterceptor(policy Policy) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := m.authorize(ctx, info.FullMethod, policy)
		if err != nil {
			return nil, err
		}
		resp, err := handler(ctx, req)
		m.settle(ctx, err)
		return resp, err
	}
}

// StreamInterceptor returns a gRPC stream interceptor that gates calls by policy.
func (m *Decorators) StreamInterceptor(policy Policy) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := m.authorize(ss.Context(), info.FullMethod, policy)
		if err != nil {
			return err
		}
		err = handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
		m.settle(ctx, err)
		return err
	}
}

// wrappedServerStream wraps a grpc.ServerStream to override its context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
