package adapter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"token-sentinel/internal/bus"
	"token-sentinel/internal/config"
	"token-sentinel/internal/domain"
	"token-sentinel/internal/health"
	"token-sentinel/internal/social"
	"token-sentinel/internal/storage"
)

const cursorIDPrefix = "id:"

// SocialOptions configures a Social source.
type SocialOptions struct {
	Name         string
	Queries      []config.SocialQuery
	PollInterval time.Duration

	Client  *social.Client
	Bus     *bus.Bus
	Cursors storage.CursorStore
	Health  *health.Registry
	Logger  *log.Logger
}

func (o *SocialOptions) normalize() error {
	if len(o.Queries) == 0 {
		return fmt.Errorf("social adapter requires at least one query")
	}
	if o.Client == nil || o.Bus == nil || o.Cursors == nil || o.Health == nil {
		return fmt.Errorf("social adapter requires client, bus, cursors and health")
	}
	if o.Name == "" {
		o.Name = "social-search"
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Minute
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return nil
}

// Social polls the recent-search endpoint for each tracked query and emits
// one mention event per post, oldest first. The since_id cursor is persisted
// per query so a restart resumes where the last poll left off.
type Social struct {
	opts SocialOptions
	em   emitter
}

// NewSocial creates a social mention source.
func NewSocial(opts SocialOptions) (*Social, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	s := &Social{
		opts: opts,
		em: emitter{
			sourceID: opts.Name,
			bus:      opts.Bus,
			cursors:  opts.Cursors,
			health:   opts.Health,
		},
	}
	opts.Health.Register(opts.Name)
	return s, nil
}

// Name returns the source id.
func (s *Social) Name() string { return s.opts.Name }

// Run polls immediately, then on every tick until ctx is cancelled.
func (s *Social) Run(ctx context.Context) error {
	if err := s.pollAll(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.pollAll(ctx); err != nil {
				return err
			}
		}
	}
}

func (s *Social) pollAll(ctx context.Context) error {
	for _, q := range s.opts.Queries {
		if err := s.poll(ctx, q); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Only upstream outages count against source health; local
			// storage or bus errors are not the feed's fault.
			if errors.Is(err, domain.ErrSourceUnavailable) {
				recordSourceError(s.opts.Health, s.opts.Name)
			}
			s.opts.Logger.Printf("social %s: query %q failed: %v", s.opts.Name, q.Query, err)
		}
	}
	return nil
}

func (s *Social) cursorID(q config.SocialQuery) string {
	return s.opts.Name + "/" + q.Entity
}

func (s *Social) poll(ctx context.Context, q config.SocialQuery) error {
	sinceID := ""
	if c, err := s.opts.Cursors.Get(ctx, s.cursorID(q)); err == nil {
		sinceID = strings.TrimPrefix(c.Position, cursorIDPrefix)
	} else if err != storage.ErrNotFound {
		return err
	}

	posts, newest, err := s.opts.Client.Search(ctx, q.Query, sinceID)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, p := range posts {
		ev := &domain.Event{
			Source:    domain.SourceSocial,
			Type:      domain.EventMention,
			Entity:    domain.EntityRef{ID: q.Entity, Kind: domain.EntityToken},
			Seq:       upstreamSeq(p.ID, q.Entity),
			Timestamp: social.ParseCreatedAt(p.CreatedAt, now),
			Mention: &domain.MentionPayload{
				Author: p.Author,
				Text:   p.Text,
			},
		}
		if err := s.em.publish(ctx, ev); err != nil {
			return err
		}
	}
	if newest == "" {
		return nil
	}
	return s.opts.Cursors.Save(ctx, &storage.Cursor{
		SourceID:  s.cursorID(q),
		Seq:       upstreamSeq(newest),
		Position:  cursorIDPrefix + newest,
		UpdatedAt: time.Now().UnixMilli(),
	})
}
