// Copyright 2026 The Nekofs Authors
// SPDX-License-Identifier: Apache-2.0

package nekodata

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/pixelneko/nekofs/lib/bufferpool"
	"github.com/pixelneko/nekofs/lib/vfs"
)

const (
	// DefaultWorkers is the number of compression goroutines used
	// when EncoderOptions.Workers is zero.
	DefaultWorkers = 12

	copyBufferSize = 4 << 20
)

// NewBufferPool returns a pool sized for archive encoding and
// decoding. Share one pool between encoders and readers to bound
// allocation across them.
func NewBufferPool() *bufferpool.Pool {
	pool, err := bufferpool.New(BlockSize, CompressBound, copyBufferSize)
	if err != nil {
		panic(fmt.Sprintf("nekodata: buffer pool sizes: %v", err))
	}
	return pool
}

// State is the phase of an Encoder.
type State int

const (
	StateCollectingSources State = iota
	StateCompressingPayload
	StateWritingDirectory
	StatePatchingFooters
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCollectingSources:
		return "collecting sources"
	case StateCompressingPayload:
		return "compressing payload"
	case StateWritingDirectory:
		return "writing directory"
	case StatePatchingFooters:
		return "patching footers"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Progress is reported once for every source written.
type Progress struct {
	// Index is 1-based; Total is the number of sources.
	Index, Total int
	Name         string
	OriginalSize int64
	StoredSize   int64
}

// EncoderOptions configures an Encoder. Zero values select defaults.
type EncoderOptions struct {
	// VolumeSize is the size of every volume but the last. Must be a
	// positive multiple of VolumeUnit. Default DefaultVolumeSize.
	VolumeSize int64

	// Workers is the number of compression goroutines.
	// Default DefaultWorkers.
	Workers int

	// QueueDepth bounds the number of blocks in flight between the
	// producer and the writer. Default 3×Workers.
	QueueDepth int

	// CompressionLevel is the LZ4-HC level, 1..9.
	// Default DefaultCompressionLevel.
	CompressionLevel int

	// Pool supplies block buffers. Default NewBufferPool().
	Pool *bufferpool.Pool

	// Logger receives progress and failures. Default discards.
	Logger *slog.Logger

	// Progress, if set, is called on the writing goroutine after each
	// source is written.
	Progress func(Progress)
}

func (o EncoderOptions) withDefaults() (EncoderOptions, lz4.CompressionLevel, error) {
	if o.VolumeSize == 0 {
		o.VolumeSize = DefaultVolumeSize
	}
	if err := validateVolumeSize(o.VolumeSize); err != nil {
		return o, 0, err
	}
	if o.Workers == 0 {
		o.Workers = DefaultWorkers
	}
	if o.Workers < 0 {
		return o, 0, fmt.Errorf("%w: %d workers", ErrInvalidConfiguration, o.Workers)
	}
	if o.QueueDepth == 0 {
		o.QueueDepth = 3 * o.Workers
	}
	if o.QueueDepth < 0 {
		return o, 0, fmt.Errorf("%w: queue depth %d", ErrInvalidConfiguration, o.QueueDepth)
	}
	if o.CompressionLevel == 0 {
		o.CompressionLevel = DefaultCompressionLevel
	}
	level, err := hcLevel(o.CompressionLevel)
	if err != nil {
		return o, 0, err
	}
	if o.Pool == nil {
		o.Pool = NewBufferPool()
	}
	if o.Pool.Size(bufferpool.Block) < BlockSize || o.Pool.Size(bufferpool.Compressed) < CompressBound {
		return o, 0, fmt.Errorf("%w: buffer pool block/compressed sizes %d/%d, need at least %d/%d",
			ErrInvalidConfiguration, o.Pool.Size(bufferpool.Block), o.Pool.Size(bufferpool.Compressed),
			BlockSize, CompressBound)
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o, level, nil
}

type sourceKind int

const (
	sourceFile sourceKind = iota
	sourceBuffer
	sourceRaw
	sourceNested
)

// source is one registered entry.
type source struct {
	name       string
	kind       sourceKind
	fileSystem vfs.FileSystem
	path       string
	data       []byte
	raw        io.ReaderAt
	meta       FileEntry
	child      *Encoder
}

// Encoder writes one archive. Register sources with the Add methods,
// then call Archive once. The Add methods are safe for concurrent use
// with each other but not with Archive.
type Encoder struct {
	options EncoderOptions
	level   lz4.CompressionLevel
	sink    VolumeSink
	logger  *slog.Logger

	// name is set for nested encoders, which are written by their
	// parent.
	name   string
	nested bool

	mu      sync.Mutex
	state   State
	sources []*source
	index   map[string]int

	// Owned by the goroutine running Archive.
	stream    *volumeWriter
	entries   []FileEntry
	abandoned *blockTask
}

// NewEncoder returns an Encoder writing volumes to sink. Options are
// validated here, before any volume is created.
func NewEncoder(sink VolumeSink, options EncoderOptions) (*Encoder, error) {
	options, level, err := options.withDefaults()
	if err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: nil volume sink", ErrInvalidConfiguration)
	}
	return &Encoder{
		options: options,
		level:   level,
		sink:    sink,
		logger:  options.Logger,
		index:   make(map[string]int),
	}, nil
}

// CreateEncoder returns an Encoder writing the volume set whose first
// volume is path on the host file system. The .nekodata extension is
// appended to path when missing.
func CreateEncoder(path string, options EncoderOptions) (*Encoder, error) {
	return NewEncoder(NewFileSystemSink(vfs.NewOS(""), path), options)
}

// State returns the encoder's current phase.
func (e *Encoder) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Encoder) setState(state State) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
}

// Entries returns the central directory written by Archive, in order.
// Empty until Archive succeeds.
func (e *Encoder) Entries() []FileEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateDone {
		return nil
	}
	return slices.Clone(e.entries)
}

// register adds or replaces a source. A re-registered name keeps its
// original position.
func (e *Encoder) register(added *source) error {
	if added.name == "" {
		return fmt.Errorf("%w: empty entry name", ErrInvalidConfiguration)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateCollectingSources {
		return fmt.Errorf("%w: cannot add %q while %s", ErrInvalidConfiguration, added.name, e.state)
	}
	if position, exists := e.index[added.name]; exists {
		e.sources[position] = added
		return nil
	}
	e.index[added.name] = len(e.sources)
	e.sources = append(e.sources, added)
	return nil
}

// AddFile registers the file at path in fileSystem under name.
// The file is read when Archive runs.
func (e *Encoder) AddFile(name string, fileSystem vfs.FileSystem, path string) error {
	if fileSystem == nil {
		return fmt.Errorf("%w: nil file system for %q", ErrInvalidConfiguration, name)
	}
	return e.register(&source{name: name, kind: sourceFile, fileSystem: fileSystem, path: path})
}

// AddBuffer registers data under name. data must not be modified
// until Archive returns.
func (e *Encoder) AddBuffer(name string, data []byte) error {
	return e.register(&source{name: name, kind: sourceBuffer, data: data})
}

// AddRawEntry registers already encoded bytes under name. stream
// holds meta.StoredSize() bytes which are copied verbatim; meta's
// block sizes are kept so a compressed entry stays decodable. When
// meta.Digest is set the copied bytes must hash to it.
func (e *Encoder) AddRawEntry(name string, stream io.ReaderAt, meta FileEntry) error {
	if stream == nil {
		return fmt.Errorf("%w: nil stream for %q", ErrInvalidConfiguration, name)
	}
	if meta.OriginalSize < 0 {
		return fmt.Errorf("%w: %q has negative size %d", ErrInvalidConfiguration, name, meta.OriginalSize)
	}
	if len(meta.Blocks) > 0 && int64(len(meta.Blocks)) != BlockCount(meta.OriginalSize) {
		return fmt.Errorf("%w: %q has %d blocks for %d bytes", ErrInvalidConfiguration,
			name, len(meta.Blocks), meta.OriginalSize)
	}
	for index, size := range meta.Blocks {
		if size <= 0 {
			return fmt.Errorf("%w: %q block %d has size %d", ErrInvalidConfiguration, name, index, size)
		}
	}
	if sized, ok := stream.(interface{ Size() int64 }); ok && sized.Size() != meta.StoredSize() {
		return fmt.Errorf("%w: %q stream holds %d bytes, entry stores %d", ErrInvalidConfiguration,
			name, sized.Size(), meta.StoredSize())
	}
	meta.Blocks = slices.Clone(meta.Blocks)
	return e.register(&source{name: name, kind: sourceRaw, raw: stream, meta: meta})
}

// AddReaderEntry copies entry sourceName of reader into this archive
// under name without recompressing it.
func (e *Encoder) AddReaderEntry(name string, reader *Reader, sourceName string) error {
	entry, err := reader.Entry(sourceName)
	if err != nil {
		return err
	}
	stream, err := reader.OpenRawStream(sourceName)
	if err != nil {
		return err
	}
	return e.AddRawEntry(name, stream, entry)
}

// AddNestedArchive registers a complete archive stored under name and
// returns the Encoder that describes its content. The nested archive
// is written into this archive's payload when Archive runs; its own
// Archive method must not be called.
func (e *Encoder) AddNestedArchive(name string) (*Encoder, error) {
	options := e.options
	options.VolumeSize = MaxVolumeSize
	options.Progress = nil
	options.Logger = e.logger.With("nested", name)
	child := &Encoder{
		options: options,
		level:   e.level,
		logger:  options.Logger,
		name:    name,
		nested:  true,
		index:   make(map[string]int),
	}
	if err := e.register(&source{name: name, kind: sourceNested, child: child}); err != nil {
		return nil, err
	}
	return child, nil
}

// Archive writes every registered source in registration order, then
// the central directory, then the volume footers. It may be called
// once. On failure the volumes written so far are closed and left
// in place.
func (e *Encoder) Archive(ctx context.Context) error {
	if e.nested {
		return fmt.Errorf("%w: nested archive %q is written by its parent", ErrInvalidConfiguration, e.name)
	}
	return e.archive(ctx)
}

func (e *Encoder) archive(ctx context.Context) (err error) {
	e.mu.Lock()
	if e.state != StateCollectingSources {
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("%w: archive already %s", ErrInvalidConfiguration, state)
	}
	e.state = StateCompressingPayload
	sources := slices.Clone(e.sources)
	e.mu.Unlock()

	started := time.Now()
	e.stream = newVolumeWriter(e.sink, e.options.VolumeSize)
	defer func() {
		if closeErr := e.stream.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			e.setState(StateFailed)
			e.logger.Error("archive failed", "error", err)
			return
		}
		e.setState(StateDone)
		e.logger.Info("archive written",
			"entries", len(e.entries),
			"volumes", len(e.stream.volumes),
			"payload_bytes", e.stream.Length(),
			"duration", time.Since(started),
		)
	}()

	if err := e.writePayload(ctx, sources); err != nil {
		return err
	}
	e.setState(StateWritingDirectory)
	if err := e.writeDirectory(); err != nil {
		return fmt.Errorf("writing central directory: %w", err)
	}
	e.setState(StatePatchingFooters)
	if err := e.stream.finish(); err != nil {
		return fmt.Errorf("writing footers: %w", err)
	}
	return nil
}

// fileJob is a file source scheduled for block compression.
type fileJob struct {
	source *source
	size   int64
	blocks int64

	// Set by the producer before the job's first task is queued.
	stream    vfs.ReadStream
	closeOnce sync.Once
}

func (j *fileJob) close() {
	j.closeOnce.Do(func() {
		if j.stream != nil {
			j.stream.Close()
		}
	})
}

// blockTask is one block of a file job. done is closed when the task
// finishes, after which output or err is set.
type blockTask struct {
	job    *fileJob
	index  int64
	done   chan struct{}
	output *bufferpool.Buffer
	length int
	err    error
}

// writePayload runs the compression pipeline: a producer queues the
// blocks of every file source in order, workers compress them, and
// this goroutine writes them in queue order. Other sources are
// written inline between files.
func (e *Encoder) writePayload(parent context.Context, sources []*source) error {
	jobs := make([]*fileJob, len(sources))
	for index, registered := range sources {
		if registered.kind != sourceFile {
			continue
		}
		size, err := registered.fileSystem.GetSize(registered.path)
		if err != nil {
			return ioErrorf(err, "sizing %s", registered.path)
		}
		jobs[index] = &fileJob{source: registered, size: size, blocks: BlockCount(size)}
	}

	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	ordered := make(chan *blockTask, e.options.QueueDepth)
	tasks := make(chan *blockTask)

	var wait sync.WaitGroup
	wait.Add(1)
	go func() {
		defer wait.Done()
		e.produce(ctx, cancel, jobs, ordered, tasks)
	}()
	for range e.options.Workers {
		wait.Add(1)
		go func() {
			defer wait.Done()
			e.work(ctx, cancel, tasks)
		}()
	}

	err := e.writeSources(ctx, sources, jobs, ordered)
	if err != nil {
		cancel(err)
	}
	wait.Wait()

	// Release blocks compressed ahead of a failure.
	if e.abandoned != nil {
		e.abandoned.output.Release()
		e.abandoned = nil
	}
	for drained := false; !drained; {
		select {
		case task := <-ordered:
			task.output.Release()
		default:
			drained = true
		}
	}
	for _, job := range jobs {
		if job != nil {
			job.close()
		}
	}
	return err
}

func (e *Encoder) produce(ctx context.Context, cancel context.CancelCauseFunc, jobs []*fileJob, ordered, tasks chan<- *blockTask) {
	defer close(tasks)
	for _, job := range jobs {
		if job == nil || job.blocks == 0 {
			continue
		}
		stream, err := job.source.fileSystem.OpenReadStream(job.source.path)
		if err != nil {
			cancel(ioErrorf(err, "opening %s", job.source.path))
			return
		}
		job.stream = stream
		for index := range job.blocks {
			task := &blockTask{job: job, index: index, done: make(chan struct{})}
			select {
			case ordered <- task:
			case <-ctx.Done():
				return
			}
			select {
			case tasks <- task:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (e *Encoder) work(ctx context.Context, cancel context.CancelCauseFunc, tasks <-chan *blockTask) {
	compressor := newBlockCompressor(e.level)
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-tasks:
			if !ok {
				return
			}
			e.compressTask(task, compressor)
			if task.err != nil {
				e.logger.Error("block compression failed",
					"name", task.job.source.name,
					"block", task.index,
					"error", task.err,
				)
				cancel(task.err)
			}
			close(task.done)
		}
	}
}

func (e *Encoder) compressTask(task *blockTask, compressor *blockCompressor) {
	job := task.job
	input := e.options.Pool.Acquire(bufferpool.Block)
	defer input.Release()

	length := blockLength(job.size, task.index)
	block := input.B[:length]
	if _, err := readFullAt(job.stream, block, task.index*BlockSize); err != nil {
		task.err = ioErrorf(err, "reading %s block %d", job.source.path, task.index)
		return
	}
	output := e.options.Pool.Acquire(bufferpool.Compressed)
	written, err := compressor.compress(block, output.B)
	if err != nil {
		output.Release()
		task.err = fmt.Errorf("%s block %d: %w", job.source.name, task.index, err)
		return
	}
	task.output = output
	task.length = written
}

// writeSources writes every source in order on the calling goroutine.
func (e *Encoder) writeSources(ctx context.Context, sources []*source, jobs []*fileJob, ordered <-chan *blockTask) error {
	compressor := newBlockCompressor(e.level)
	for index, registered := range sources {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}
		e.logger.Info("packing entry", "index", index+1, "total", len(sources), "name", registered.name)

		var entry FileEntry
		var err error
		switch registered.kind {
		case sourceFile:
			entry, err = e.writeFile(ctx, jobs[index], ordered)
		case sourceBuffer:
			entry, err = e.writeBuffer(registered, compressor)
		case sourceRaw:
			entry, err = e.writeRaw(registered)
		case sourceNested:
			entry, err = e.writeNested(ctx, registered)
		}
		if err != nil {
			return fmt.Errorf("packing %s: %w", registered.name, err)
		}
		e.entries = append(e.entries, entry)
		if e.options.Progress != nil {
			e.options.Progress(Progress{
				Index:        index + 1,
				Total:        len(sources),
				Name:         entry.Name,
				OriginalSize: entry.OriginalSize,
				StoredSize:   entry.StoredSize(),
			})
		}
	}
	return nil
}

func (e *Encoder) writeFile(ctx context.Context, job *fileJob, ordered <-chan *blockTask) (FileEntry, error) {
	entry := FileEntry{Name: job.source.name, OriginalSize: job.size, BeginPos: e.stream.Position()}
	hasher := sha256.New()
	if job.blocks > 0 {
		entry.Blocks = make([]int32, 0, job.blocks)
	}
	for range job.blocks {
		var task *blockTask
		select {
		case task = <-ordered:
		case <-ctx.Done():
			return entry, context.Cause(ctx)
		}
		select {
		case <-task.done:
		case <-ctx.Done():
			e.abandoned = task
			return entry, context.Cause(ctx)
		}
		if task.err != nil {
			return entry, task.err
		}
		compressed := task.output.B[:task.length]
		_, err := e.stream.Write(compressed)
		if err == nil {
			hasher.Write(compressed)
			entry.Blocks = append(entry.Blocks, int32(task.length))
		}
		task.output.Release()
		if err != nil {
			return entry, err
		}
	}
	job.close()
	hasher.Sum(entry.Digest[:0])
	return entry, nil
}

func (e *Encoder) writeBuffer(registered *source, compressor *blockCompressor) (FileEntry, error) {
	size := int64(len(registered.data))
	entry := FileEntry{Name: registered.name, OriginalSize: size, BeginPos: e.stream.Position()}
	hasher := sha256.New()
	if size > 0 {
		output := e.options.Pool.Acquire(bufferpool.Compressed)
		defer output.Release()
		entry.Blocks = make([]int32, 0, BlockCount(size))
		for index := range BlockCount(size) {
			start := index * BlockSize
			block := registered.data[start : start+int64(blockLength(size, index))]
			written, err := compressor.compress(block, output.B)
			if err != nil {
				return entry, fmt.Errorf("block %d: %w", index, err)
			}
			if _, err := e.stream.Write(output.B[:written]); err != nil {
				return entry, err
			}
			hasher.Write(output.B[:written])
			entry.Blocks = append(entry.Blocks, int32(written))
		}
	}
	hasher.Sum(entry.Digest[:0])
	return entry, nil
}

func (e *Encoder) writeRaw(registered *source) (FileEntry, error) {
	entry := registered.meta
	entry.Name = registered.name
	entry.BeginPos = e.stream.Position()
	stored := entry.StoredSize()

	hasher := sha256.New()
	buffer := e.options.Pool.Acquire(bufferpool.Copy)
	defer buffer.Release()
	copied, err := io.CopyBuffer(io.MultiWriter(e.stream, hasher), io.NewSectionReader(registered.raw, 0, stored), buffer.B)
	if err != nil {
		return entry, ioErrorf(err, "copying raw entry")
	}
	if copied != stored {
		return entry, ioErrorf(io.ErrUnexpectedEOF, "raw entry holds %d bytes, want %d", copied, stored)
	}

	var digest Digest
	hasher.Sum(digest[:0])
	if !registered.meta.Digest.IsZero() && stored > 0 && digest != registered.meta.Digest {
		return entry, DigestMismatch{Name: registered.name, Expected: registered.meta.Digest, Actual: digest}
	}
	entry.Digest = digest
	return entry, nil
}

func (e *Encoder) writeNested(ctx context.Context, registered *source) (FileEntry, error) {
	start := e.stream.Length()
	if err := e.stream.Seek(start); err != nil {
		return FileEntry{}, err
	}
	child := registered.child
	child.sink = &nestedSink{parent: e.stream, start: start, volumeSize: child.options.VolumeSize}
	if err := child.archive(ctx); err != nil {
		return FileEntry{}, err
	}
	end := e.stream.Length()
	if err := e.stream.Seek(end); err != nil {
		return FileEntry{}, err
	}

	entry := FileEntry{Name: registered.name, OriginalSize: end - start, BeginPos: start}
	hasher := sha256.New()
	buffer := e.options.Pool.Acquire(bufferpool.Copy)
	defer buffer.Release()
	if _, err := io.CopyBuffer(hasher, io.NewSectionReader(e.stream, start, end-start), buffer.B); err != nil {
		return entry, ioErrorf(err, "digesting nested archive")
	}
	hasher.Sum(entry.Digest[:0])
	return entry, nil
}

func (e *Encoder) writeDirectory() error {
	start := e.stream.Length()
	if err := e.stream.Seek(start); err != nil {
		return err
	}
	writer := bufio.NewWriterSize(e.stream, 64<<10)
	var record []byte
	for index := range e.entries {
		var err error
		record, err = appendEntry(record[:0], &e.entries[index])
		if err != nil {
			return err
		}
		if _, err := writer.Write(record); err != nil {
			return err
		}
	}
	if _, err := writer.Write(binary.BigEndian.AppendUint64(nil, uint64(start))); err != nil {
		return err
	}
	return writer.Flush()
}
