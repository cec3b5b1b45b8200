package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/docseed/internal/bundle"
	"github.com/roach88/docseed/internal/checksum"
	"github.com/roach88/docseed/internal/identity"
	"github.com/roach88/docseed/internal/metrics"
	"github.com/roach88/docseed/internal/retry"
	"github.com/roach88/docseed/internal/validation"
)

// Clock supplies timestamps for records and audit entries.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// State is a step of a single bundle write.
type State string

const (
	StateResolvingIdentity State = "RESOLVING_IDENTITY"
	StateCheckingExisting  State = "CHECKING_EXISTING"
	StateCreating          State = "CREATING"
	StateSkipping          State = "SKIPPING"
	StateModifying         State = "MODIFYING"
	StateDone              State = "DONE"
	StateFailed            State = "FAILED"
)

// Mode selects how the coordinator picks its executor.
type Mode string

const (
	// ModeAuto uses atomic execution when the record store supports it and
	// tracked rollback otherwise.
	ModeAuto Mode = "auto"

	// ModeRequired refuses to start without atomic execution.
	ModeRequired Mode = "required"

	// ModeDisabled always uses tracked rollback.
	ModeDisabled Mode = "disabled"
)

// ParseMode parses a transactions mode from configuration.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAuto, ModeRequired, ModeDisabled:
		return m, nil
	case "":
		return ModeAuto, nil
	}
	return "", fmt.Errorf("unknown transactions mode %q (want auto, required or disabled)", s)
}

// ErrAtomicityRequired is returned by New when ModeRequired is set and the
// record store cannot run atomic units.
var ErrAtomicityRequired = errors.New("atomic execution required but the record store does not support it")

// Result is the outcome of a successful WriteBundle.
type Result struct {
	Outcome bundle.Outcome `json:"outcome"`
	Summary bundle.Summary `json:"summary"`
}

// Coordinator decides whether an incoming bundle is new, unchanged or
// modified and drives the write. Safe for concurrent use: it holds no
// per-identity state, and concurrent writers of one identity are serialized
// by the record store's uniqueness constraints.
type Coordinator struct {
	records   bundle.RecordStore
	blobs     bundle.BlobStore
	exec      executor
	validator *validation.Validator
	clock     Clock
	logger    *slog.Logger
	retry     retry.Policy
	metrics   *metrics.Metrics
	mode      Mode
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the timestamp source. Default: wall clock.
func WithClock(c Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

// WithRetryPolicy sets the policy wrapping idempotent storage calls.
// Default: retry.Default().
func WithRetryPolicy(p retry.Policy) Option {
	return func(co *Coordinator) { co.retry = p }
}

// WithMetrics records outcomes, retries and rollbacks on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(co *Coordinator) { co.metrics = m }
}

// WithAtomicity sets the executor selection mode. Default: ModeAuto.
func WithAtomicity(m Mode) Option {
	return func(co *Coordinator) { co.mode = m }
}

// WithValidator shares an existing validator instead of compiling a new one.
func WithValidator(v *validation.Validator) Option {
	return func(co *Coordinator) { co.validator = v }
}

// New builds a coordinator over the given stores. The executor is chosen
// here, once, from the record store's capabilities and the atomicity mode.
func New(records bundle.RecordStore, blobs bundle.BlobStore, opts ...Option) (*Coordinator, error) {
	if records == nil || blobs == nil {
		return nil, errors.New("coordinator: record store and blob store are required")
	}

	c := &Coordinator{
		records: records,
		blobs:   blobs,
		clock:   systemClock{},
		logger:  slog.Default(),
		retry:   retry.Default(),
		mode:    ModeAuto,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.retry.Validate(); err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}
	c.retry.OnRetry = c.observeRetry(c.retry.OnRetry)

	if c.validator == nil {
		v, err := validation.New()
		if err != nil {
			return nil, fmt.Errorf("coordinator: %w", err)
		}
		c.validator = v
	}

	atomicStore, atomic := records.(bundle.AtomicRecordStore)
	atomic = atomic && atomicStore.SupportsAtomic()

	switch c.mode {
	case ModeAuto:
		if atomic {
			c.exec = &atomicExecutor{c: c, store: atomicStore}
		} else {
			c.logger.Warn("atomicity unavailable, using tracked rollback")
			c.exec = &trackedExecutor{c: c}
		}
	case ModeRequired:
		if !atomic {
			return nil, fmt.Errorf("coordinator: %w", ErrAtomicityRequired)
		}
		c.exec = &atomicExecutor{c: c, store: atomicStore}
	case ModeDisabled:
		c.exec = &trackedExecutor{c: c}
	default:
		return nil, fmt.Errorf("coordinator: unknown atomicity mode %q", c.mode)
	}

	c.logger.Debug("coordinator ready", "executor", c.exec.name())
	return c, nil
}

// Executor returns the name of the selected executor ("atomic" or "tracked").
func (c *Coordinator) Executor() string { return c.exec.name() }

func (c *Coordinator) observeRetry(next func(string, int, time.Duration, error)) func(string, int, time.Duration, error) {
	return func(op string, attempt int, delay time.Duration, err error) {
		c.logger.Debug("storage retry",
			"op", op,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		c.metrics.ObserveRetry(op)
		if next != nil {
			next(op, attempt, delay, err)
		}
	}
}

// plan is everything an executor needs to perform a CREATE or MODIFY.
type plan struct {
	identity bundle.Identity
	outcome  bundle.Outcome
	previous *bundle.Record
	record   bundle.Record
	config   bundle.ConfigDocument
	blobs    map[bundle.ArtifactKind]bundle.BlobPut
	changed  []bundle.ArtifactKind
	now      time.Time

	// keep holds references carried over from the previous version for
	// kinds the caller did not supply. Nothing is written for them.
	keep bundle.References
}

// WriteBundle validates in, resolves its identity, compares it with the
// active record and creates, skips or modifies accordingly.
//
// Errors are *bundle.Error values: VALIDATION (nothing written),
// DUPLICATE_ACTIVE_RECORD (another writer won), STORAGE_TRANSIENT (retries
// exhausted or atomic commit failed) or STORAGE_FATAL. On any storage error
// every artifact written by this call has been removed before it returns.
func (c *Coordinator) WriteBundle(ctx context.Context, in bundle.Input) (Result, error) {
	return c.observe(in.Label(), func() (Result, bundle.Identity, error) {
		return c.write(ctx, in, false)
	})
}

// CreateBundle is WriteBundle restricted to new identities. When an active
// record already exists it returns DUPLICATE_ACTIVE_RECORD and writes
// nothing.
func (c *Coordinator) CreateBundle(ctx context.Context, in bundle.Input) (Result, error) {
	return c.observe(in.Label(), func() (Result, bundle.Identity, error) {
		return c.write(ctx, in, true)
	})
}

// ModifyBundle writes a new version of the active record of id from a
// partial set of artifacts. Kinds missing from artifacts keep the previous
// version's reference, checksum, size and file name and are not uploaded
// again. A supplied config must resolve to id. When every supplied artifact
// matches the active version the result is SKIPPED.
//
// Besides the errors of WriteBundle, it returns VALIDATION when artifacts is
// empty and NOT_FOUND when id has no active record.
func (c *Coordinator) ModifyBundle(ctx context.Context, id bundle.Identity, artifacts map[bundle.ArtifactKind]bundle.Artifact) (Result, error) {
	return c.observe(string(id), func() (Result, bundle.Identity, error) {
		return c.modify(ctx, id, artifacts)
	})
}

// observe runs one write and records its outcome in logs and metrics.
func (c *Coordinator) observe(label string, fn func() (Result, bundle.Identity, error)) (Result, error) {
	start := time.Now()
	res, id, err := fn()
	elapsed := time.Since(start)

	if err != nil {
		c.state(id, StateFailed)
		c.metrics.ObserveError(string(bundle.CodeOf(err)), elapsed)
		c.logger.Warn("bundle write failed",
			"identity", id,
			"owner", label,
			"code", bundle.CodeOf(err),
			"error", err,
		)
		return Result{}, err
	}

	c.state(id, StateDone)
	c.metrics.ObserveWrite(string(res.Outcome), elapsed)
	return res, nil
}

func (c *Coordinator) write(ctx context.Context, in bundle.Input, strict bool) (Result, bundle.Identity, error) {
	c.state("", StateResolvingIdentity)

	checked, err := c.validator.Input(in)
	if err != nil {
		return Result{}, "", err
	}
	id, err := identity.Build(in.Scheme, checked.Name, checked.OutFileName, in.Region)
	if err != nil {
		return Result{}, "", err
	}

	// The config is digested in canonical form so formatting-only edits
	// do not produce a new version.
	artifacts := make(map[bundle.ArtifactKind]bundle.Artifact, len(in.Artifacts))
	for kind, art := range in.Artifacts {
		artifacts[kind] = art
	}
	cfg := artifacts[bundle.KindConfig]
	cfg.Data = checked.Config
	artifacts[bundle.KindConfig] = cfg

	sums, sizes, err := checksum.ComputeAll(ctx, artifacts)
	if err != nil {
		return Result{}, id, failure("checksum", id, err)
	}

	c.state(id, StateCheckingExisting)

	prev, found, err := c.findActive(ctx, id)
	if err != nil {
		return Result{}, id, err
	}
	if found && strict {
		return Result{}, id, &bundle.Error{
			Code:     bundle.CodeDuplicateActive,
			Op:       "create",
			Identity: id,
			Message:  fmt.Sprintf("active record already exists at version %d", prev.Version),
		}
	}
	if found && prev.Checksums.Equal(sums) {
		return c.skip(prev), id, nil
	}

	p := c.newPlan(bundle.Record{
		Identity:    id,
		OwnerID:     in.OwnerID,
		Region:      in.Region,
		Scheme:      in.Scheme,
		Name:        checked.Name,
		OutFileName: checked.OutFileName,
		Checksums:   sums,
		Sizes:       sizes,
	})
	if found {
		c.supersede(p, prev)
	} else {
		p.record.Audit = bundle.NewAuditLog(bundle.AuditEntry{
			Action: bundle.ActionCreated,
			At:     p.now,
			Detail: "initial version",
		})
		c.state(id, StateCreating)
	}

	for kind, art := range artifacts {
		p.stage(kind, art)
	}
	p.stageConfig(checked.Config)

	return c.run(ctx, p)
}

func (c *Coordinator) modify(ctx context.Context, id bundle.Identity, supplied map[bundle.ArtifactKind]bundle.Artifact) (Result, bundle.Identity, error) {
	c.state(id, StateResolvingIdentity)

	if id == "" {
		return Result{}, "", bundle.Validationf("identity is required")
	}
	if len(supplied) == 0 {
		return Result{}, id, bundle.Validationf("at least one artifact must be supplied").WithIdentity(id)
	}

	artifacts := make(map[bundle.ArtifactKind]bundle.Artifact, len(supplied))
	for kind, art := range supplied {
		if !kind.Valid() {
			return Result{}, id, bundle.Validationf("unknown artifact kind %q", kind).WithIdentity(id)
		}
		if len(art.Data) == 0 {
			return Result{}, id, bundle.Validationf("%s artifact is empty", kind).WithIdentity(id)
		}
		artifacts[kind] = art
	}

	var name, outFileName string
	var doc []byte
	if cfg, ok := artifacts[bundle.KindConfig]; ok {
		var err error
		name, outFileName, doc, err = c.validator.Config(cfg.Data)
		if err != nil {
			return Result{}, id, err
		}
		cfg.Data = doc
		artifacts[bundle.KindConfig] = cfg
	}

	sums, sizes, err := checksum.ComputeAll(ctx, artifacts)
	if err != nil {
		return Result{}, id, failure("checksum", id, err)
	}

	c.state(id, StateCheckingExisting)

	prev, found, err := c.findActive(ctx, id)
	if err != nil {
		return Result{}, id, err
	}
	if !found {
		return Result{}, id, bundle.NewNotFound("modify", "active record").WithIdentity(id)
	}

	if doc != nil {
		resolved, err := identity.Build(prev.Scheme, name, outFileName, prev.Region)
		if err != nil {
			return Result{}, id, err
		}
		if resolved != id {
			return Result{}, id, bundle.Validationf("config resolves to identity %q", resolved).WithIdentity(id)
		}
	} else {
		name, outFileName = prev.Name, prev.OutFileName
	}

	merged, mergedSizes := prev.Checksums, prev.Sizes
	keep := prev.References.Map()
	for kind := range artifacts {
		sum, _ := sums.Get(kind)
		size, _ := sizes.Get(kind)
		merged = merged.With(kind, sum)
		mergedSizes = mergedSizes.With(kind, size)
		delete(keep, kind)
	}
	if merged.Equal(prev.Checksums) {
		return c.skip(prev), id, nil
	}

	p := c.newPlan(bundle.Record{
		Identity:    id,
		OwnerID:     prev.OwnerID,
		Region:      prev.Region,
		Scheme:      prev.Scheme,
		Name:        name,
		OutFileName: outFileName,
		Checksums:   merged,
		Sizes:       mergedSizes,
		Filenames:   prev.Filenames,
	})
	p.keep = bundle.NewArtifactSet(keep)
	c.supersede(p, prev)

	for kind, art := range artifacts {
		p.stage(kind, art)
	}
	if doc != nil {
		p.stageConfig(doc)
	}

	return c.run(ctx, p)
}

func (c *Coordinator) findActive(ctx context.Context, id bundle.Identity) (bundle.Record, bool, error) {
	var (
		prev  bundle.Record
		found bool
	)
	err := c.retry.Do(ctx, "find active", func(ctx context.Context) error {
		var err error
		prev, found, err = c.records.FindActive(ctx, id)
		return err
	})
	if err != nil {
		return bundle.Record{}, false, failure("find active", id, err)
	}
	return prev, found, nil
}

func (c *Coordinator) skip(prev bundle.Record) Result {
	c.state(prev.Identity, StateSkipping)
	c.logger.Info("bundle unchanged",
		"identity", prev.Identity,
		"version", prev.Version,
		"outcome", bundle.OutcomeSkipped,
	)
	return Result{
		Outcome: bundle.OutcomeSkipped,
		Summary: bundle.Summary{
			Identity:   prev.Identity,
			Version:    prev.Version,
			References: prev.References,
			Checksums:  prev.Checksums,
		},
	}
}

// newPlan starts a CREATE of version 1 from base.
func (c *Coordinator) newPlan(base bundle.Record) *plan {
	now := c.clock.Now().UTC()
	rec := base
	rec.CreatedAt = now
	rec.Active = true
	rec.Version = 1
	return &plan{
		identity: base.Identity,
		outcome:  bundle.OutcomeCreated,
		now:      now,
		record:   rec,
	}
}

// supersede turns p into a MODIFY of prev.
func (c *Coordinator) supersede(p *plan, prev bundle.Record) {
	p.outcome = bundle.OutcomeModified
	p.previous = &prev
	p.changed = prev.Checksums.Diff(p.record.Checksums)
	p.record.Version = prev.Version + 1
	p.record.Audit = bundle.NewAuditLog(bundle.AuditEntry{
		Action: bundle.ActionModified,
		At:     p.now,
		Detail: fmt.Sprintf("version %d -> %d; changed: %s", prev.Version, p.record.Version, joinKinds(p.changed)),
	})
	c.state(p.identity, StateModifying)
}

// stage records the file name of a supplied artifact and, for blob kinds,
// the blob to upload.
func (p *plan) stage(kind bundle.ArtifactKind, art bundle.Artifact) {
	name := art.Filename
	if name == "" {
		name = string(kind)
	}
	p.record.Filenames = p.record.Filenames.With(kind, name)
	if kind == bundle.KindConfig {
		return
	}

	sum, _ := p.record.Checksums.Get(kind)
	contentType := art.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if p.blobs == nil {
		p.blobs = make(map[bundle.ArtifactKind]bundle.BlobPut)
	}
	p.blobs[kind] = bundle.BlobPut{
		Filename:    name,
		ContentType: contentType,
		Data:        art.Data,
		Metadata: map[string]string{
			"identity": string(p.identity),
			"kind":     string(kind),
			"checksum": sum,
			"version":  strconv.Itoa(p.record.Version),
		},
	}
}

// stageConfig sets the config document to store with the new version.
func (p *plan) stageConfig(doc []byte) {
	sum, _ := p.record.Checksums.Get(bundle.KindConfig)
	p.config = bundle.ConfigDocument{
		Identity:   p.identity,
		Version:    p.record.Version,
		Checksum:   sum,
		Document:   doc,
		UploadedAt: p.now,
	}
}

// run hands p to the executor and reports the stored version.
func (c *Coordinator) run(ctx context.Context, p *plan) (Result, bundle.Identity, error) {
	id := p.identity
	rec, err := c.exec.execute(ctx, p)
	if err != nil {
		return Result{}, id, failure(string(p.outcome), id, err)
	}

	summary := bundle.Summary{
		Identity:   id,
		Version:    rec.Version,
		Changed:    p.changed,
		References: rec.References,
		Checksums:  rec.Checksums,
	}
	if p.previous != nil {
		summary.PreviousVersion = p.previous.Version
		c.logger.Info("bundle modified",
			"identity", id,
			"version", rec.Version,
			"previous", p.previous.Version,
			"changed", joinKinds(p.changed),
			"outcome", p.outcome,
		)
	} else {
		c.logger.Info("bundle created",
			"identity", id,
			"version", rec.Version,
			"outcome", p.outcome,
		)
	}
	return Result{Outcome: p.outcome, Summary: summary}, id, nil
}

func (c *Coordinator) state(id bundle.Identity, s State) {
	c.logger.Debug("bundle state", "identity", id, "state", s)
}

// failure tags err with id. Errors from outside the bundle taxonomy become
// STORAGE_TRANSIENT when caused by cancellation and STORAGE_FATAL otherwise.
func failure(op string, id bundle.Identity, err error) error {
	var be *bundle.Error
	if errors.As(err, &be) {
		if be.Identity != "" {
			return err
		}
		return be.WithIdentity(id)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return bundle.NewTransient(op, err).WithIdentity(id)
	}
	return bundle.NewFatal(op, err).WithIdentity(id)
}

func joinKinds(kinds []bundle.ArtifactKind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}
