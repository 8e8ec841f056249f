package logging

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultTimeFormatStr is the default time format string for log appenders.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// Appender is an output for log entries. This is a subset of the `zapcore.Core` interface.
type Appender interface {
	// Write submits a structured log entry to the appender for logging.
	Write(zapcore.Entry, []zapcore.Field) error
	// Sync is for signaling that any buffered logs to `Write` should be flushed. E.g: at shutdown.
	Sync() error
}

// ConsoleAppender will create human readable logs to an io.Writer.
type ConsoleAppender struct {
	mu      sync.Mutex
	writer  io.Writer
	encoder zapcore.Encoder
}

// NewStdoutAppender creates a new appender that outputs to stdout.
func NewStdoutAppender() *ConsoleAppender {
	return NewWriterAppender(os.Stdout)
}

// NewWriterAppender creates a new appender that outputs to the input writer.
func NewWriterAppender(writer io.Writer) *ConsoleAppender {
	cfg := NewZapLoggerConfig().EncoderConfig
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout(DefaultTimeFormatStr)
	return &ConsoleAppender{writer: writer, encoder: zapcore.NewConsoleEncoder(cfg)}
}

// NewFileAppender creates an appender that writes to a size-rotated log file.
func NewFileAppender(filename string) *ConsoleAppender {
	cfg := NewZapLoggerConfig().EncoderConfig
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout(DefaultTimeFormatStr)
	return &ConsoleAppender{
		writer: &lumberjack.Logger{
			Filename:   filename,
			MaxSize:    64, // megabytes
			MaxBackups: 3,
		},
		encoder: zapcore.NewConsoleEncoder(cfg),
	}
}

// Write outputs the log entry to the underlying stream.
func (appender *ConsoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	buf, err := appender.encoder.EncodeEntry(entry, fields)
	if err != nil {
		return err
	}
	defer buf.Free()

	appender.mu.Lock()
	defer appender.mu.Unlock()
	_, err = appender.writer.Write(buf.Bytes())
	return err
}

// Sync flushes the writer when it supports it.
func (appender *ConsoleAppender) Sync() error {
	appender.mu.Lock()
	defer appender.mu.Unlock()
	if syncer, ok := appender.writer.(interface{ Sync() error }); ok {
		return syncer.Sync()
	}
	return nil
}

// Close closes the writer when it supports it. Rotated file appenders must be closed.
func (appender *ConsoleAppender) Close() error {
	appender.mu.Lock()
	defer appender.mu.Unlock()
	if closer, ok := appender.writer.(io.Closer); ok && appender.writer != os.Stdout {
		return closer.Close()
	}
	return nil
}
