// Package auto fetches statically first and promotes to a headless render
// when the static page looks script-rendered.
package auto

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/pinellas-property-scraper/internal/property"
)

// Opener builds auto sessions from a static and a headless opener.
type Opener struct {
	static   property.SessionOpener
	headless property.SessionOpener
	detector property.PromotionDetector
	logger   *zap.Logger
}

// New constructs an Opener. A nil headless opener or detector disables promotion.
func New(
	static property.SessionOpener,
	headless property.SessionOpener,
	detector property.PromotionDetector,
	logger *zap.Logger,
) *Opener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Opener{static: static, headless: headless, detector: detector, logger: logger}
}

// Open opens the static session. The headless session is opened on the first
// promotion so lookups that never need a browser never start one.
func (o *Opener) Open(ctx context.Context) (property.Session, error) {
	static, err := o.static.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open static session: %w", err)
	}
	return &session{opener: o, static: static}, nil
}

type session struct {
	opener   *Opener
	static   property.Session
	headless property.Session
}

func (s *session) Fetch(ctx context.Context, request property.FetchRequest) (property.Page, error) {
	page, err := s.static.Fetch(ctx, request)
	if err != nil {
		return property.Page{}, err //nolint:wrapcheck // already classified
	}
	if !s.shouldPromote(page) {
		return page, nil
	}

	rendered, err := s.render(ctx, request)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return property.Page{}, fmt.Errorf("headless promotion: %w", ctxErr)
		}
		s.opener.logger.Warn("headless promotion failed, keeping static page",
			zap.String("url", request.URL),
			zap.Error(err),
		)
		return page, nil
	}
	s.opener.logger.Debug("headless promotion applied",
		zap.String("url", request.URL),
		zap.String("reason", s.reason(page)),
	)
	return rendered, nil
}

// reasoner is implemented by detectors that can name the rule that fired.
type reasoner interface {
	Reason(page property.Page) string
}

func (s *session) reason(page property.Page) string {
	if r, ok := s.opener.detector.(reasoner); ok {
		return r.Reason(page)
	}
	return "detector"
}

func (s *session) shouldPromote(page property.Page) bool {
	return s.opener.headless != nil && s.opener.detector != nil && s.opener.detector.ShouldPromote(page)
}

func (s *session) render(ctx context.Context, request property.FetchRequest) (property.Page, error) {
	if s.headless == nil {
		headless, err := s.opener.headless.Open(ctx)
		if err != nil {
			return property.Page{}, fmt.Errorf("open headless session: %w", err)
		}
		s.headless = headless
	}
	page, err := s.headless.Fetch(ctx, request)
	if err != nil {
		return property.Page{}, err //nolint:wrapcheck // already classified
	}
	page.UsedHeadless = true
	return page, nil
}

// Close closes both sessions, joining their errors.
func (s *session) Close() error {
	var errs []error
	if s.headless != nil {
		if err := s.headless.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close headless session: %w", err))
		}
	}
	if err := s.static.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close static session: %w", err))
	}
	return errors.Join(errs...)
}
