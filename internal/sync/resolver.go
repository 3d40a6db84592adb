package sync

import (
	"context"

	"github.com/chetankumar-rs/AASHAKIRANA/internal/log"
	"github.com/chetankumar-rs/AASHAKIRANA/internal/model"
)

// Resolver picks the surviving version when local and remote data disagree
type Resolver interface {
	Resolve(ctx context.Context, local, remote model.Payload) (model.Payload, error)
}

// ResolverFunc adapts a function to Resolver
type ResolverFunc func(ctx context.Context, local, remote model.Payload) (model.Payload, error)

func (f ResolverFunc) Resolve(ctx context.Context, local, remote model.Payload) (model.Payload, error) {
	return f(ctx, local, remote)
}

// LocalWins always keeps the local version
type LocalWins struct{}

func (LocalWins) Resolve(ctx context.Context, local, remote model.Payload) (model.Payload, error) {
	entry := log.GetLogger(ctx).WithField("component", "resolver").WithField("winner", "local")
	if local != nil {
		entry = entry.WithField("type", local.RecordType())
	}
	entry.WithField("remote_present", remote != nil).Debug("Conflict resolved")
	return local, nil
}
