package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ModeAPIKey enables key checking.
const ModeAPIKey = "apikey"

// Policy is an API key check.
type Policy struct {
	Mode string

	// Header is the HTTP header and gRPC metadata key carrying the key.
	// gRPC metadata keys are lower case.
	Header string

	Key string

	// Public lists HTTP path prefixes served without a key.
	Public []string
}

func (p Policy) enabled() bool { return p.Mode == ModeAPIKey && p.Key != "" }

func (p Policy) valid(got string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(p.Key)) == 1
}

func (p Policy) authorize(ctx context.Context) error {
	if !p.enabled() {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get(strings.ToLower(p.Header))
	if len(vals) == 0 || !p.valid(vals[0]) {
		return status.Error(codes.Unauthenticated, "invalid api key")
	}
	return nil
}

// UnaryInterceptor checks the key on every unary call.
func (p Policy) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if err := p.authorize(ctx); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor checks the key when a stream opens.
func (p Policy) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := p.authorize(ss.Context()); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

// Middleware rejects HTTP requests without a valid key with 401. WebSocket
// clients that cannot set headers may pass the key as the api_key query
// parameter.
func (p Policy) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !p.enabled() || p.public(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get(p.Header)
		if got == "" {
			got = r.URL.Query().Get("api_key")
		}
		if !p.valid(got) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid api key"}` + "\n")) //nolint:errcheck
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (p Policy) public(path string) bool {
	for _, prefix := range p.Public {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
