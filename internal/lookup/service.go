// Package lookup runs the property lookup pipeline: normalize the address,
// resolve the search to a detail page, extract fields, and assemble the
// record. It also records each lookup's history, snapshot, and event.
package lookup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pinellas-property-scraper/internal/address"
	"github.com/JakeFAU/pinellas-property-scraper/internal/assemble"
	"github.com/JakeFAU/pinellas-property-scraper/internal/clock/system"
	"github.com/JakeFAU/pinellas-property-scraper/internal/extract"
	"github.com/JakeFAU/pinellas-property-scraper/internal/metrics"
	"github.com/JakeFAU/pinellas-property-scraper/internal/property"
	"github.com/JakeFAU/pinellas-property-scraper/internal/resolver"
)

const (
	snapshotContentType = "text/html; charset=utf-8"
	sideEffectTimeout   = 10 * time.Second
)

// Config controls Service behavior.
type Config struct {
	County string
	// FetchTimeout bounds every individual fetch.
	FetchTimeout time.Duration
	// Budget bounds the whole lookup, both fetches included.
	Budget        time.Duration
	ArchivePrefix string
	Topic         string
}

// Dependencies are the collaborators a Service needs. Store, Archive, and
// Publisher are optional.
type Dependencies struct {
	Normalizer *address.Normalizer
	Resolver   *resolver.Resolver
	Extractor  *extract.Extractor
	Assembler  *assemble.Assembler
	Fields     []property.FieldSpec
	Opener     property.SessionOpener
	Store      property.LookupStore
	Archive    property.BlobStore
	Publisher  property.Publisher
	Hasher     property.Hasher
	Clock      property.Clock
	IDs        property.IDGenerator
	Logger     *zap.Logger
}

// Service executes lookups. It keeps no per-lookup state and is safe for
// concurrent use.
type Service struct {
	deps Dependencies
	cfg  Config
	log  *zap.Logger
}

// New validates deps and builds a Service.
func New(deps Dependencies, cfg Config) (*Service, error) {
	switch {
	case deps.Normalizer == nil:
		return nil, errors.New("lookup: normalizer is required")
	case deps.Resolver == nil:
		return nil, errors.New("lookup: resolver is required")
	case deps.Extractor == nil:
		return nil, errors.New("lookup: extractor is required")
	case deps.Opener == nil:
		return nil, errors.New("lookup: session opener is required")
	}
	if deps.Fields == nil {
		deps.Fields = extract.DefaultFields()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if cfg.County == "" {
		cfg.County = assemble.DefaultCounty
	}
	if deps.Assembler == nil {
		deps.Assembler = assemble.New(cfg.County, deps.Clock, extract.OutputNames(deps.Fields))
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Service{deps: deps, cfg: cfg, log: deps.Logger}, nil
}

// County returns the county this service answers for.
func (s *Service) County() string {
	return s.cfg.County
}

// Lookup runs the pipeline for one free-form address. Failures are reported
// in the Result, never as a partial record.
func (s *Service) Lookup(ctx context.Context, raw string) Result {
	metrics.IncActiveLookups()
	defer metrics.DecActiveLookups()

	started := s.deps.Clock.Now()
	id := s.newID()
	addr := property.Address{Raw: raw, Normalized: s.deps.Normalizer.Normalize(raw)}
	logger := s.log.With(zap.String("lookup_id", id), zap.String("address", addr.Normalized))

	runCtx := ctx
	if s.cfg.Budget > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.Budget)
		defer cancel()
	}

	res, detail := s.run(runCtx, addr, logger)
	res.LookupID = id

	metrics.ObserveLookup(string(res.Status()))
	if res.OK() {
		logger.Info("lookup succeeded",
			zap.String("parcel_id", res.Record.Get(property.FieldParcelID)),
			zap.Duration("duration", s.deps.Clock.Now().Sub(started)),
		)
	} else {
		logger.Warn("lookup failed", zap.String("message", res.Message), zap.Error(res.Err))
	}

	s.record(ctx, logger, id, addr, started, res, detail)
	return res
}

func (s *Service) run(ctx context.Context, addr property.Address, logger *zap.Logger) (Result, *property.Page) {
	if addr.Normalized == "" {
		return failure(&property.NavigationError{Kind: property.NoResultsFound}), nil
	}

	session, err := s.deps.Opener.Open(ctx)
	if err != nil {
		return failure(classifyFetchErr(ctx, fmt.Errorf("open fetch session: %w", err))), nil
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn("close fetch session", zap.Error(cerr))
		}
	}()

	fetch := boundedFetcher{next: session, timeout: s.cfg.FetchTimeout}
	resolution, err := s.deps.Resolver.Resolve(ctx, addr.Normalized, fetch)
	if err != nil {
		return failure(err), nil
	}
	logger.Debug("resolved detail page",
		zap.String("url", resolution.Page.Location()),
		zap.Int("hops", resolution.Hops),
		zap.Bool("headless", resolution.Page.UsedHeadless),
	)

	raw := s.deps.Extractor.Extract(resolution.Document, s.deps.Fields)
	record := s.deps.Assembler.Assemble(raw, addr, resolution.Page.Location())
	for _, name := range extract.OutputNames(s.deps.Fields) {
		if record.Get(name) == property.NotFound {
			metrics.ObserveFieldMissing(name)
		}
	}
	page := resolution.Page
	return Result{Record: record}, &page
}

func (s *Service) newID() string {
	if s.deps.IDs == nil {
		return ""
	}
	id, err := s.deps.IDs.NewID()
	if err != nil {
		s.log.Warn("generate lookup id", zap.Error(err))
		return ""
	}
	return id
}

// record persists the snapshot, history row, and event. Failures are logged
// and never change the Result.
func (s *Service) record(
	ctx context.Context,
	logger *zap.Logger,
	id string,
	addr property.Address,
	started time.Time,
	res Result,
	detail *property.Page,
) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	finished := s.deps.Clock.Now()
	row := property.LookupRecord{
		ID:         id,
		Address:    addr.Raw,
		Normalized: addr.Normalized,
		Status:     res.Status(),
		Started:    started,
		Finished:   finished,
	}
	if res.OK() {
		row.Record = res.Record
		row.ParcelID = res.Record.Get(property.FieldParcelID)
		row.SourceURL = res.Record.Get(property.FieldSourceURL)
	} else {
		row.Error = res.Message
	}

	if detail != nil {
		uri, hash, err := s.archive(ctx, id, finished, detail.HTML)
		if err != nil {
			logger.Warn("archive detail snapshot", zap.Error(err))
		}
		row.SnapshotURI, row.ContentHash = uri, hash
	}

	if s.deps.Store != nil {
		if err := s.deps.Store.SaveLookup(ctx, row); err != nil {
			logger.Warn("save lookup history", zap.Error(err))
		}
	}

	if s.deps.Publisher != nil && s.cfg.Topic != "" {
		event := property.LookupEvent{
			LookupID:   id,
			Status:     row.Status,
			ParcelID:   row.ParcelID,
			County:     s.cfg.County,
			FinishedAt: finished,
		}
		msgID, err := s.deps.Publisher.Publish(ctx, s.cfg.Topic, event)
		if err != nil {
			logger.Warn("publish lookup event", zap.Error(err))
		} else {
			logger.Debug("lookup event published", zap.String("message_id", msgID))
		}
	}
}

func (s *Service) archive(ctx context.Context, id string, at time.Time, html []byte) (string, string, error) {
	var hash string
	if s.deps.Hasher != nil {
		h, err := s.deps.Hasher.Hash(html)
		if err != nil {
			return "", "", fmt.Errorf("hash snapshot: %w", err)
		}
		hash = h
	}
	if s.deps.Archive == nil {
		return "", hash, nil
	}
	uri, err := s.deps.Archive.PutObject(ctx, SnapshotPath(s.cfg.ArchivePrefix, id, at), snapshotContentType,
		bytes.NewReader(html))
	if err != nil {
		return "", hash, fmt.Errorf("put snapshot: %w", err)
	}
	return uri, hash, nil
}

// SnapshotPath is <prefix>/<yyyy>/<mm>/<dd>/<id>.html, with an empty prefix omitted.
func SnapshotPath(prefix, id string, at time.Time) string {
	prefix = strings.Trim(prefix, "/")
	return path.Join(prefix, at.UTC().Format("2006/01/02"), id+".html")
}
