package release

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// ErrTagExists is returned if the release tag is already present
var ErrTagExists = eris.New("tag already exists")

// Releaser tags the current commit with the package version and pushes the tags
type Releaser struct {
	Git      *Git
	Resolver *Resolver
	Remote   string
	Prefix   string
	Message  string
	// SkipPush only creates the tag
	SkipPush bool
	// BeforePush is called after the tag was created. Optional.
	BeforePush func(tag string)
}

// Release creates the tag and pushes it. A failed push leaves the created tag in place.
func (r *Releaser) Release(ctx context.Context) (string, error) {
	logger := zerolog.Ctx(ctx)

	version, err := r.Resolver.Resolve()
	if err != nil {
		return "", err
	}

	tag := version.TagName(r.Prefix)
	logger.Info().Str("version", version.Original()).Str("source", version.Source).Msgf("Releasing %s", tag)

	exists, err := r.Git.TagExists(ctx, tag)
	if err != nil {
		return tag, err
	}
	if exists {
		return tag, eris.Wrapf(ErrTagExists, "tag %s", tag)
	}

	err = r.Git.CreateTag(ctx, tag, r.Message)
	if err != nil {
		return tag, eris.Wrapf(err, "failed to create tag %s", tag)
	}

	if r.SkipPush {
		return tag, nil
	}

	if r.BeforePush != nil {
		r.BeforePush(tag)
	}

	remote := r.Remote
	if remote == "" {
		remote = "origin"
	}

	err = r.Git.PushTags(ctx, remote)
	if err != nil {
		return tag, eris.Wrapf(err, "tag %s was created but pushing to %s failed", tag, remote)
	}

	return tag, nil
}
