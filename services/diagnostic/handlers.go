package diagnostic

import (
	"runtime"
	"time"

	"github.com/gf2influx/gf2influx/flow"
	"github.com/gf2influx/gf2influx/keyvalue"
	"github.com/gf2influx/gf2influx/models"
	"github.com/gf2influx/gf2influx/services/ingest"
	"go.uber.org/zap"
)

func Err(l *zap.Logger, msg string, err error, ctx []keyvalue.T) {
	if len(ctx) == 0 {
		l.Error(msg, zap.Error(err))
		return
	}

	if len(ctx) == 1 {
		el := ctx[0]
		l.Error(msg, zap.Error(err), zap.String(el.Key, el.Value))
		return
	}

	// Use the allocation version for any length
	fields := make([]zap.Field, len(ctx)+1) // +1 for error
	fields[0] = zap.Error(err)
	for i := 1; i < len(fields); i++ {
		kv := ctx[i-1]
		fields[i] = zap.String(kv.Key, kv.Value)
	}

	l.Error(msg, fields...)
}

func Info(l *zap.Logger, msg string, ctx []keyvalue.T) {
	l.Info(msg, logFieldsFromContext(ctx)...)
}

func Debug(l *zap.Logger, msg string, ctx []keyvalue.T) {
	if ce := l.Check(zap.DebugLevel, msg); ce != nil {
		ce.Write(logFieldsFromContext(ctx)...)
	}
}

func logFieldsFromContext(ctx []keyvalue.T) []zap.Field {
	if len(ctx) == 0 {
		return nil
	}
	fields := make([]zap.Field, len(ctx))
	for i, kv := range ctx {
		fields[i] = zap.String(kv.Key, kv.Value)
	}

	return fields
}

// Cmd handler

type CmdHandler struct {
	l *zap.Logger
}

func (h *CmdHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

func (h *CmdHandler) Starting(version, branch, commit string) {
	h.l.Info("gf2influxd starting", zap.String("version", version), zap.String("branch", branch), zap.String("commit", commit))
}

func (h *CmdHandler) GoVersion() {
	h.l.Info("go version", zap.String("version", runtime.Version()))
}

func (h *CmdHandler) Info(msg string) {
	h.l.Info(msg)
}

// Server handler

type ServerHandler struct {
	l *zap.Logger
}

func (h *ServerHandler) Error(msg string, err error, ctx ...keyvalue.T) {
	Err(h.l, msg, err, ctx)
}

func (h *ServerHandler) Info(msg string, ctx ...keyvalue.T) {
	Info(h.l, msg, ctx)
}

func (h *ServerHandler) Debug(msg string, ctx ...keyvalue.T) {
	Debug(h.l, msg, ctx)
}

// Tail handler

type TailHandler struct {
	l *zap.Logger
}

func (h *TailHandler) Error(msg string, err error, ctx ...keyvalue.T) {
	Err(h.l, msg, err, ctx)
}

func (h *TailHandler) WaitingForFile(path string) {
	h.l.Info("waiting for file to appear", zap.String("path", path))
}

func (h *TailHandler) OpenedFile(path string, offset int64) {
	h.l.Info("following file", zap.String("path", path), zap.Int64("offset", offset))
}

func (h *TailHandler) Truncated(path string, offset int64) {
	h.l.Warn("file truncated, reading from start", zap.String("path", path), zap.Int64("previous_offset", offset))
}

func (h *TailHandler) Recreated(path string) {
	h.l.Info("file was replaced, reopening", zap.String("path", path))
}

func (h *TailHandler) WatcherUnavailable(err error) {
	h.l.Warn("file notifications unavailable, polling only", zap.Error(err))
}

func (h *TailHandler) ClosedService() {
	h.l.Info("closed service")
}

// Ingest handler

type IngestHandler struct {
	l *zap.Logger
}

func (h *IngestHandler) Error(msg string, err error, ctx ...keyvalue.T) {
	Err(h.l, msg, err, ctx)
}

func (h *IngestHandler) DroppedValue(measurement, key, reason string) {
	h.l.Debug("dropped value from point",
		zap.String("measurement", measurement),
		zap.String("key", key),
		zap.String("reason", reason),
	)
}

func (h *IngestHandler) IdleWindow(window time.Duration, idle int) {
	if idle == 1 {
		h.l.Warn("no lines received, flow exporter may have stopped", zap.Duration("window", window))
		return
	}
	h.l.Debug("no lines received in batch window", zap.Duration("window", window), zap.Int("idle_windows", idle))
}

func (h *IngestHandler) Resumed(idleFor time.Duration) {
	h.l.Info("receiving lines again", zap.Duration("idle", idleFor))
}

func (h *IngestHandler) BatchFlushed(b models.Batch, trigger string) {
	h.l.Debug("flushed batch",
		zap.Uint64("batch", b.ID),
		zap.Int("lines", b.Len()),
		zap.Int("duplicates", b.Duplicates),
		zap.Duration("window", b.Window()),
		zap.String("trigger", trigger),
	)
}

func (h *IngestHandler) SkippedLine(batchID uint64, err *flow.SkipError) {
	fields := []zap.Field{
		zap.Uint64("batch", batchID),
		zap.String("reason", string(err.Reason)),
		zap.Error(err.Err),
	}
	if err.Offset < 0 {
		fields = append(fields, zap.ByteString("line", err.Line))
	} else {
		fields = append(fields, zap.Int("offset", err.Offset), zap.ByteString("line", err.Prefix()))
	}
	h.l.Warn("skipped line", fields...)
}

func (h *IngestHandler) WriteAttemptFailed(batchID uint64, key string, attempt int, err error, next time.Duration) {
	h.l.Warn("failed to write partition, retrying",
		zap.Uint64("batch", batchID),
		zap.String("partition", key),
		zap.Int("attempt", attempt),
		zap.Duration("retry_in", next),
		zap.Error(err),
	)
}

func (h *IngestHandler) PartitionWritten(batchID uint64, key string, points, attempts int, elapsed time.Duration) {
	h.l.Debug("wrote partition",
		zap.Uint64("batch", batchID),
		zap.String("partition", key),
		zap.Int("points", points),
		zap.Int("attempts", attempts),
		zap.Duration("elapsed", elapsed),
	)
}

func (h *IngestHandler) PartitionWriteFailed(batchID uint64, key string, points, attempts int, err error) {
	h.l.Error("dropped partition after failed writes",
		zap.Uint64("batch", batchID),
		zap.String("partition", key),
		zap.Int("points", points),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
}

func (h *IngestHandler) BatchDropped(batchID uint64, lines int) {
	h.l.Warn("queue full, dropped oldest batch", zap.Uint64("batch", batchID), zap.Int("lines", lines))
}

func (h *IngestHandler) PipelineFinished(s ingest.PipelineSummary) {
	h.l.Info("processed batch",
		zap.Uint64("batch", s.BatchID),
		zap.Int("lines", s.Lines),
		zap.Int("points", s.Points),
		zap.Int("skipped", s.Skipped),
		zap.Int("partitions", s.Partitions),
		zap.Int("failed_partitions", s.Failed),
		zap.Duration("elapsed", s.Elapsed),
	)
}

func (h *IngestHandler) AbandonedPipeline(t ingest.TaskHandle, running time.Duration) {
	h.l.Warn("abandoned batch at shutdown",
		zap.Uint64("batch", t.BatchID),
		zap.Int("lines", t.Lines),
		zap.Duration("running", running),
	)
}

// InfluxDB handler

type InfluxDBHandler struct {
	l *zap.Logger
}

func (h *InfluxDBHandler) Error(msg string, err error, ctx ...keyvalue.T) {
	Err(h.l, msg, err, ctx)
}

func (h *InfluxDBHandler) InsecureSkipVerify(url string) {
	h.l.Warn("using InsecureSkipVerify when connecting to InfluxDB; this is insecure", zap.String("url", url))
}

func (h *InfluxDBHandler) PingFailed(url string, err error) {
	h.l.Warn("failed to reach InfluxDB, retrying", zap.String("url", url), zap.Error(err))
}

func (h *InfluxDBHandler) Connected(url, version string) {
	h.l.Info("connected to InfluxDB", zap.String("url", url), zap.String("version", version))
}

func (h *InfluxDBHandler) CreatedDatabase(db string) {
	h.l.Info("created database", zap.String("database", db))
}

// Stats handler

type StatsHandler struct {
	l *zap.Logger
}

func (h *StatsHandler) Error(msg string, err error) {
	h.l.Error(msg, zap.Error(err))
}

func (h *StatsHandler) ListeningOn(addr string) {
	h.l.Info("listening on", zap.String("addr", addr))
}

func (h *StatsHandler) StoppedService() {
	h.l.Info("stopped service")
}
