package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"github.com/valter-silva-au/vaultq/pkg/models"
)

// excerptLimit bounds the request excerpt quoted in a generated plan.
const excerptLimit = 500

// IngestOptions controls a single ingestion pass.
type IngestOptions struct {
	// DryRun reports what would be created without writing anything.
	DryRun bool
}

// IngestResult summarizes an ingestion pass.
type IngestResult struct {
	Scanned     int
	AlreadySeen int
	Created     []string
	Skipped     []string
	// Backfilled counts registry entries restored for artifacts that
	// already existed.
	Backfilled int
}

// Ingestor turns unseen inbox items into task records exactly once.
type Ingestor interface {
	// Scan returns the inbox items that have not produced an artifact yet.
	Scan() ([]string, error)
	// Ingest derives a record for every unseen item.
	Ingest(ctx context.Context, opts IngestOptions) (*IngestResult, error)
	// Reconcile back-fills the registry from artifacts already present in the
	// lifecycle folders. It returns the number of entries added.
	Reconcile() (int, error)
	// ArtifactName returns the derived record filename for a source item.
	ArtifactName(source string) string
}

// IngestorConfig configures an Ingestor.
type IngestorConfig struct {
	Pipeline string
	Include  []string
	// SourcePrefix is prepended to the inbox filename in source_file headers,
	// e.g. "AI_Employee_Vault/Inbox".
	SourcePrefix string
}

type ingestor struct {
	store      RecordStore
	registry   IngestRegistry
	classifier Classifier
	templates  TemplateManager
	cfg        IngestorConfig
	log        zerolog.Logger
	events     EventLogger
	now        func() time.Time
}

// NewIngestor creates an Ingestor. An empty include list selects the
// pipeline's default glob.
func NewIngestor(store RecordStore, registry IngestRegistry, classifier Classifier, templates TemplateManager, cfg IngestorConfig, log zerolog.Logger, events EventLogger) Ingestor {
	if cfg.Pipeline == "" {
		cfg.Pipeline = models.PipelinePlan
	}
	if len(cfg.Include) == 0 {
		cfg.Include = DefaultIncludes(cfg.Pipeline)
	}
	return &ingestor{
		store:      store,
		registry:   registry,
		classifier: classifier,
		templates:  templates,
		cfg:        cfg,
		log:        log,
		events:     events,
		now:        time.Now,
	}
}

// DefaultIncludes returns the default include globs for a pipeline.
func DefaultIncludes(pipeline string) []string {
	if pipeline == models.PipelineTask {
		return []string{"*"}
	}
	return []string{"*.md"}
}

// pathSubstitutions maps characters that are unsafe in a filename.
var pathSubstitutions = strings.NewReplacer(":", "-", "/", "-", "\\", "-")

// SanitizeName maps path separators and colons to dashes.
func SanitizeName(name string) string {
	return pathSubstitutions.Replace(name)
}

func (in *ingestor) ArtifactName(source string) string {
	if in.cfg.Pipeline == models.PipelineTask {
		return "task_" + SanitizeName(source) + ".md"
	}
	return "Plan_" + SanitizeName(strings.TrimSuffix(source, ".md")) + ".md"
}

// collisionName derives an alternative artifact name for a source whose
// sanitized name collides with a different source's artifact.
func (in *ingestor) collisionName(source string) string {
	sum := sha256.Sum256([]byte(source))
	base := strings.TrimSuffix(in.ArtifactName(source), ".md")
	return base + "_" + hex.EncodeToString(sum[:4]) + ".md"
}

func (in *ingestor) included(name string) bool {
	for _, pattern := range in.cfg.Include {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// seen reports whether source already produced an artifact. Both the
// registry and the lifecycle folders are consulted since either may be
// missing the item after a crash.
func (in *ingestor) seen(source string) (bool, string) {
	if in.registry.Has(source) {
		return true, ""
	}
	for _, name := range []string{in.ArtifactName(source), in.collisionName(source)} {
		if f, ok := in.store.Locate(name); ok && in.artifactBelongsTo(f, name, source) {
			return true, name
		}
	}
	return false, ""
}

func (in *ingestor) artifactBelongsTo(f models.Folder, name, source string) bool {
	rec, err := in.store.Read(f, name)
	if err != nil {
		return true
	}
	src := rec.Header.Get(models.KeySourceFile)
	if src == "" {
		// Records written before source_file existed are attributed by name.
		return true
	}
	return path.Base(filepath.ToSlash(src)) == source
}

func (in *ingestor) Scan() ([]string, error) {
	names, err := in.store.Names(models.FolderInbox)
	if err != nil {
		return nil, fmt.Errorf("scanning inbox: %w", err)
	}
	var unseen []string
	for _, name := range names {
		if !in.included(name) {
			continue
		}
		if ok, _ := in.seen(name); ok {
			continue
		}
		unseen = append(unseen, name)
	}
	return unseen, nil
}

func (in *ingestor) Ingest(ctx context.Context, opts IngestOptions) (*IngestResult, error) {
	names, err := in.store.Names(models.FolderInbox)
	if err != nil {
		return nil, fmt.Errorf("scanning inbox: %w", err)
	}

	result := &IngestResult{}
	for _, name := range names {
		if !in.included(name) {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		result.Scanned++

		seen, artifact := in.seen(name)
		if seen {
			result.AlreadySeen++
			if artifact != "" && !opts.DryRun {
				// Artifact survived but the registry entry was lost.
				in.appendEntry(name, artifact)
				result.Backfilled++
			}
			continue
		}

		if opts.DryRun {
			in.log.Info().Str("source", name).Str("record", in.ArtifactName(name)).Msg("dry run: would ingest")
			result.Created = append(result.Created, in.ArtifactName(name))
			continue
		}

		created, err := in.ingestOne(name)
		if err != nil {
			// Unreadable items are marked seen so they cannot block the pipeline.
			in.log.Error().Err(err).Str("source", name).Msg("skipping inbox item")
			logEvent(in.events, models.EventIngestSkipped, name, map[string]any{"error": err.Error()})
			in.appendEntry(name, "")
			result.Skipped = append(result.Skipped, name)
			continue
		}
		result.Created = append(result.Created, created)
	}

	return result, nil
}

func (in *ingestor) appendEntry(source, artifact string) {
	err := in.registry.Append(models.RegistryEntry{
		Filename:    source,
		ProcessedAt: in.now().Format(models.TimeFormat),
		PlanCreated: artifact,
	})
	if err != nil {
		in.log.Error().Err(err).Str("source", source).Msg("recording registry entry")
	}
}

// ingestOne derives, writes and registers the record for one source. The
// artifact is durable before the registry entry is appended.
func (in *ingestor) ingestOne(source string) (string, error) {
	data, err := in.store.ReadRaw(models.FolderInbox, source)
	if err != nil {
		return "", err
	}

	rec, err := in.derive(source, data)
	if err != nil {
		return "", err
	}

	err = in.store.Create(rec)
	if errors.Is(err, models.ErrRecordConflict) {
		if f, ok := in.store.Locate(rec.Name); ok && in.artifactBelongsTo(f, rec.Name, source) {
			in.appendEntry(source, rec.Name)
			return rec.Name, nil
		}
		rec.Name = in.collisionName(source)
		in.log.Warn().Str("source", source).Str("record", rec.Name).Msg("artifact name taken by another source, using hashed name")
		err = in.store.Create(rec)
	}
	if err != nil {
		return "", fmt.Errorf("writing record for %s: %w", source, err)
	}

	in.appendEntry(source, rec.Name)
	in.log.Info().
		Str("source", source).
		Str("record", rec.Name).
		Str("priority", rec.Header.Get(models.KeyPriority)).
		Msg("ingested inbox item")
	logEvent(in.events, models.EventIngested, rec.Name, map[string]any{
		"source":    source,
		"priority":  rec.Header.Get(models.KeyPriority),
		"task_type": rec.Header.Get(models.KeyTaskType),
	})
	return rec.Name, nil
}

func (in *ingestor) derive(source string, data []byte) (*models.TaskRecord, error) {
	now := in.now()
	sourcePath := path.Join(in.cfg.SourcePrefix, source)

	rec := models.NewTaskRecord(in.ArtifactName(source))
	rec.Folder = models.FolderNeedsAction
	h := rec.Header

	if in.cfg.Pipeline == models.PipelineTask {
		h.Set(models.KeyType, "file_review")
		h.Set(models.KeyStatus, string(models.StatusPending))
		h.Set(models.KeyPriority, string(models.PriorityMedium))
		rec.Stamp(models.KeyCreatedAt, now)
		h.Set(models.KeySourceFile, sourcePath)
		h.SetList(models.KeyRelatedFiles, []string{sourcePath})

		body, err := in.templates.Render(BodyFileReview, BodyData{
			SourceFile:     source,
			SourcePath:     sourcePath,
			SourceSize:     int64(len(data)),
			SourceModified: in.modTime(source),
			CreatedAt:      now.Format(models.TimeFormat),
		})
		if err != nil {
			return nil, err
		}
		rec.Body = body
		return rec, nil
	}

	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%s is not valid UTF-8 text", source)
	}
	text := string(data)
	c := in.classifier.Classify(text)

	h.Set(models.KeyType, "action_plan")
	h.Set(models.KeyStatus, string(models.StatusPending))
	h.Set(models.KeyPriority, string(c.Priority))
	h.Set(models.KeyTaskType, c.TaskType)
	rec.Stamp(models.KeyCreatedAt, now)
	h.Set(models.KeySourceFile, sourcePath)
	h.SetList(models.KeyRelatedFiles, nil)

	excerpt, truncated := truncateRunes(text, excerptLimit)
	body, err := in.templates.Render(BodyPlan, BodyData{
		Title:      planTitle(source, text),
		SourceFile: source,
		SourcePath: sourcePath,
		Excerpt:    excerpt,
		Truncated:  truncated,
		TaskType:   c.TaskType,
		Priority:   string(c.Priority),
		Effort:     c.Effort,
		Steps:      PlanSteps(c.TaskType),
		Risks:      PlanRisks(text),
		CreatedAt:  now.Format(models.TimeFormat),
	})
	if err != nil {
		return nil, err
	}
	rec.Body = body
	return rec, nil
}

func (in *ingestor) modTime(source string) string {
	rec, err := in.store.Read(models.FolderInbox, source)
	if err != nil || rec.ModTime.IsZero() {
		return "unknown"
	}
	return rec.ModTime.Format(models.TimeFormat)
}

// planTitle uses the first line of the request, stripped of heading marks,
// or a title-cased filename when the request is empty.
func planTitle(source, text string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	first = strings.TrimSpace(strings.Trim(first, "#"))
	if first != "" {
		return first
	}
	words := strings.Fields(strings.ReplaceAll(strings.TrimSuffix(source, ".md"), "_", " "))
	for i, w := range words {
		_, size := utf8.DecodeRuneInString(w)
		words[i] = strings.ToUpper(w[:size]) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}

func truncateRunes(s string, limit int) (string, bool) {
	if utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:limit]), true
}

func (in *ingestor) Reconcile() (int, error) {
	added := 0
	for _, f := range models.LifecycleFolders {
		names, err := in.store.Names(f)
		if err != nil {
			return added, err
		}
		for _, name := range names {
			if !strings.HasSuffix(name, ".md") {
				continue
			}
			rec, err := in.store.Read(f, name)
			if err != nil {
				in.log.Warn().Err(err).Str("record", name).Msg("reconcile: unreadable record")
				continue
			}
			src := rec.Header.Get(models.KeySourceFile)
			if src == "" {
				continue
			}
			source := path.Base(filepath.ToSlash(src))
			if in.registry.Has(source) {
				continue
			}
			in.appendEntry(source, name)
			added++
		}
	}
	if added > 0 {
		in.log.Info().Int("entries", added).Msg("reconciled registry from existing records")
	}
	return added, nil
}
