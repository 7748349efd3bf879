package index

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/vitalita/healthassist/internal/chunk"
	"github.com/vitalita/healthassist/internal/docs"
	"github.com/vitalita/healthassist/internal/jobs"
	"github.com/vitalita/healthassist/internal/registry"
	"github.com/vitalita/healthassist/internal/vectorstore"
)

// ErrRebuildInProgress is returned when a rebuild is already running.
var ErrRebuildInProgress = errors.New("rebuild already in progress")

// Orchestrator rebuilds the vector index from all known sources and applies
// incremental single-document updates.
type Orchestrator struct {
	client     *vectorstore.Client
	writer     *vectorstore.Writer
	tracker    *jobs.Tracker
	library    *docs.Library
	urls       *registry.Store
	splitter   *chunk.Splitter
	handles    *Handles
	collection string
	logger     *log.Logger
	notify     func(outcome string)

	rebuilding atomic.Bool
}

// NewOrchestrator wires the rebuild pipeline. collection is the live
// collection name queries read from.
func NewOrchestrator(client *vectorstore.Client, writer *vectorstore.Writer, tracker *jobs.Tracker,
	library *docs.Library, urls *registry.Store, splitter *chunk.Splitter,
	collection string, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	o := &Orchestrator{
		client:     client,
		writer:     writer,
		tracker:    tracker,
		library:    library,
		urls:       urls,
		splitter:   splitter,
		collection: collection,
		logger:     logger,
	}
	o.handles = NewHandles(o.ResolveLive)
	return o
}

// Handles exposes the live collection resolver for query paths.
func (o *Orchestrator) Handles() *Handles {
	return o.handles
}

// OnRebuildDone registers a callback invoked with the terminal job status
// ("completed" or "error") when a background rebuild finishes. Set it before
// the first StartRebuild.
func (o *Orchestrator) OnRebuildDone(fn func(outcome string)) {
	o.notify = fn
}

// ResolveLive is the Handles init function: it loads the live collection or
// reports nil when the index has never been built.
func (o *Orchestrator) ResolveLive(ctx context.Context) (*vectorstore.Collection, error) {
	coll, err := o.client.GetCollection(ctx, o.collection)
	if errors.Is(err, vectorstore.ErrCollectionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return coll, nil
}

// StartRebuild launches a full rebuild in the background and returns the job
// id to poll. Only one rebuild runs at a time.
func (o *Orchestrator) StartRebuild() (string, error) {
	if !o.rebuilding.CompareAndSwap(false, true) {
		return "", ErrRebuildInProgress
	}
	jobID := o.tracker.Create("starting rebuild")
	go func() {
		defer o.rebuilding.Store(false)
		ctx := context.Background()
		outcome := string(jobs.StatusCompleted)
		if err := o.rebuild(ctx, jobID); err != nil {
			outcome = string(jobs.StatusError)
			o.logger.Printf("[REBUILD] job %s failed: %v", jobID, err)
			if ferr := o.tracker.Fail(jobID, err.Error()); ferr != nil {
				o.logger.Printf("[REBUILD] recording failure for job %s: %v", jobID, ferr)
			}
		}
		if o.notify != nil {
			o.notify(outcome)
		}
	}()
	return jobID, nil
}

// rebuild writes everything into a temp collection and swaps it in only on
// success, so queries keep hitting the old index if anything fails.
func (o *Orchestrator) rebuild(ctx context.Context, jobID string) error {
	filenames, err := o.library.Filenames()
	if err != nil {
		return fmt.Errorf("listing documents: %w", err)
	}
	urlDocs := o.urls.FetchedDocs()

	o.update(jobID, jobs.Update{
		CurrentStep: strp("creating new index"),
		Percentage:  intp(10),
		TotalPDFs:   intp(len(filenames)),
		TotalURLs:   intp(len(urlDocs)),
	})

	tempName := fmt.Sprintf("%s_build_%d", o.collection, time.Now().Unix())
	temp, err := o.client.CreateCollection(ctx, tempName)
	if err != nil {
		return fmt.Errorf("creating build collection: %w", err)
	}
	cleanup := func() {
		if derr := o.client.DeleteCollection(context.Background(), tempName); derr != nil {
			o.logger.Printf("[REBUILD] removing build collection %s: %v", tempName, derr)
		}
	}

	for i, name := range filenames {
		o.update(jobID, jobs.Update{
			CurrentStep: strp(fmt.Sprintf("indexing %s", name)),
			Percentage:  intp(progressAt(20, 60, i, len(filenames))),
		})
		chunks, err := o.chunkPDF(name)
		if err != nil {
			cleanup()
			return fmt.Errorf("processing %s: %w", name, err)
		}
		if err := o.writer.AddChunks(ctx, temp, name, chunks); err != nil {
			cleanup()
			return err
		}
		o.update(jobID, jobs.Update{ProcessedPDFs: intp(i + 1)})
	}

	for i, doc := range urlDocs {
		o.update(jobID, jobs.Update{
			CurrentStep: strp(fmt.Sprintf("indexing %s", doc.URL)),
			Percentage:  intp(progressAt(60, 90, i, len(urlDocs))),
		})
		if err := o.writer.AddChunks(ctx, temp, doc.URL, doc.FetchedChunks); err != nil {
			cleanup()
			return err
		}
		o.update(jobID, jobs.Update{ProcessedURLs: intp(i + 1)})
	}

	o.update(jobID, jobs.Update{CurrentStep: strp("activating new index"), Percentage: intp(95)})
	if err := o.client.DeleteCollection(ctx, o.collection); err != nil {
		cleanup()
		return fmt.Errorf("dropping old collection: %w", err)
	}
	if err := o.client.RenameCollection(ctx, temp, o.collection); err != nil {
		cleanup()
		return fmt.Errorf("activating new collection: %w", err)
	}
	o.handles.Set(temp)

	// documents stay in their previous state until the new index is the one
	// queries actually read from
	for _, doc := range urlDocs {
		if err := o.urls.MarkIndexed(doc.ID); err != nil {
			o.logger.Printf("[REBUILD] marking %s indexed: %v", doc.URL, err)
		}
	}

	if err := o.tracker.Complete(jobID, "rebuild complete"); err != nil {
		return err
	}
	o.logger.Printf("[REBUILD] job %s complete: %d documents, %d urls", jobID, len(filenames), len(urlDocs))
	return nil
}

// AddPDFDocument chunks one stored PDF and writes it into the live index,
// replacing any chunks from an earlier version of the file. The live
// collection is created on first use.
func (o *Orchestrator) AddPDFDocument(ctx context.Context, filename string) (int, error) {
	coll, err := o.ensureLive(ctx)
	if err != nil {
		return 0, err
	}
	chunks, err := o.chunkPDF(filename)
	if err != nil {
		return 0, err
	}
	if err := o.writer.RemoveSource(ctx, coll, filename); err != nil {
		return 0, err
	}
	if err := o.writer.AddChunks(ctx, coll, filename, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// RemovePDFDocument drops a file's chunks from the live index. A missing
// index is a no-op.
func (o *Orchestrator) RemovePDFDocument(ctx context.Context, filename string) error {
	coll, err := o.handles.Get(ctx)
	if err != nil || coll == nil {
		return err
	}
	return o.writer.RemoveSource(ctx, coll, filename)
}

// AddURLDocument writes a fetched URL document's cached chunks into the live
// index and marks it indexed.
func (o *Orchestrator) AddURLDocument(ctx context.Context, doc registry.URLDocument) error {
	if len(doc.FetchedChunks) == 0 {
		return fmt.Errorf("document %s has no fetched content", doc.URL)
	}
	coll, err := o.ensureLive(ctx)
	if err != nil {
		return err
	}
	if err := o.writer.RemoveSource(ctx, coll, doc.URL); err != nil {
		return err
	}
	if err := o.writer.AddChunks(ctx, coll, doc.URL, doc.FetchedChunks); err != nil {
		return err
	}
	return o.urls.MarkIndexed(doc.ID)
}

// RemoveURLDocument drops a URL's chunks from the live index. A missing
// index is a no-op.
func (o *Orchestrator) RemoveURLDocument(ctx context.Context, doc registry.URLDocument) error {
	coll, err := o.handles.Get(ctx)
	if err != nil || coll == nil {
		return err
	}
	return o.writer.RemoveSource(ctx, coll, doc.URL)
}

func (o *Orchestrator) ensureLive(ctx context.Context) (*vectorstore.Collection, error) {
	coll, err := o.handles.Get(ctx)
	if err != nil {
		return nil, err
	}
	if coll != nil {
		return coll, nil
	}
	coll, err = o.client.CreateCollection(ctx, o.collection)
	if err != nil {
		return nil, fmt.Errorf("creating collection: %w", err)
	}
	o.handles.Set(coll)
	return coll, nil
}

func (o *Orchestrator) chunkPDF(filename string) ([]chunk.Chunk, error) {
	path, err := o.library.Path(filename)
	if err != nil {
		return nil, err
	}
	pages, err := docs.ExtractPages(path)
	if err != nil {
		return nil, err
	}
	var chunks []chunk.Chunk
	for _, page := range pages {
		chunks = append(chunks, o.splitter.ChunkDocument(page.Text, chunk.Metadata{
			SourceID:   filename,
			SourceType: chunk.SourcePDF,
			Title:      filename,
			Page:       page.Number,
			TotalPages: len(pages),
		})...)
	}
	return chunk.Renumber(chunks), nil
}

func (o *Orchestrator) update(jobID string, upd jobs.Update) {
	if err := o.tracker.Update(jobID, upd); err != nil {
		o.logger.Printf("[REBUILD] updating job %s: %v", jobID, err)
	}
}

// progressAt maps item i of n onto the [lo, hi) band.
func progressAt(lo, hi, i, n int) int {
	if n <= 0 {
		return lo
	}
	return lo + (hi-lo)*i/n
}

func intp(v int) *int       { return &v }
func strp(v string) *string { return &v }
