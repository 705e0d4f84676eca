package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rivo/tview"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Types int

const (
	Info Types = iota
	Error
	Warn
	Fatal
)

type Message struct {
	Timestamp time.Time
	Tag       string
	Message   string
	LogTypes  Types
}

// manager owns the shared sinks: the dev console view and the zap file writer
// fed from logChan.
type manager struct {
	view    *tview.TextView
	dev     bool
	logFile *os.File
	zap     *zap.Logger
	logChan chan Message
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

type Logger struct {
	tag string
	m   *manager
}

var (
	logManager *manager
	once       sync.Once
)

// InitLogger configures the process-wide sinks. Loggers created before
// InitLogger, or when it is never called, discard everything.
func InitLogger(dev bool, logPath string, view *tview.TextView) {
	once.Do(func() {
		m := &manager{
			view: view,
			dev:  dev,
		}
		if logPath != "" {
			timestamp := time.Now().Format("20060102_150405")
			fileName := fmt.Sprintf("kubechat_log_%s.log", timestamp)
			filePath := filepath.Join(logPath, fileName)

			file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				log.Fatalf("Failed to open log file: %s", err)
			}
			m.logFile = file
			m.zap = newFileLogger(file)
			m.logChan = make(chan Message, 100)
			m.done = make(chan struct{})
			go m.processLogs()
		}
		logManager = m
	})
}

func newFileLogger(file *os.File) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.TimeKey = "" // the queued message carries its own timestamp
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(file),
		zapcore.DebugLevel,
	)
	return zap.New(core)
}

func NewLogger(tag string) *Logger {
	return &Logger{
		tag: tag,
		m:   logManager,
	}
}

func (m *manager) processLogs() {
	defer close(m.done)
	for msg := range m.logChan {
		fields := []zap.Field{
			zap.String("ts", msg.Timestamp.Format(time.RFC3339Nano)),
			zap.String("tag", msg.Tag),
		}
		switch msg.LogTypes {
		case Info:
			m.zap.Info(msg.Message, fields...)
		case Warn:
			m.zap.Warn(msg.Message, fields...)
		case Fatal:
			m.zap.Error(msg.Message, append(fields, zap.Bool("fatal", true))...)
		default:
			m.zap.Error(msg.Message, fields...)
		}
	}
}

func (l *Logger) log(logTypes Types, v ...interface{}) {
	m := l.m
	if m == nil {
		return
	}
	message := fmt.Sprint(v...)
	if m.dev {
		if m.view != nil {
			var format string
			switch logTypes {
			case Info:
				format = "[green]DEBUG (%s): %s[-]\n"
			case Error:
				format = "[red]DEBUG (%s): %s[-]\n"
			case Warn:
				format = "[yellow]DEBUG (%s): %s[-]\n"
			case Fatal:
				format = "[red]DEBUG (%s): %s[-]\n"
			}
			fmt.Fprintf(m.view, format, l.tag, tview.Escape(message))
		} else {
			log.Printf("%s (%s): %s", logTypes.toString(), l.tag, message)
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.logChan != nil && !m.closed {
		m.logChan <- Message{
			Timestamp: time.Now(),
			Tag:       l.tag,
			Message:   message,
			LogTypes:  logTypes,
		}
	}
}

func (l *Logger) Info(v ...interface{}) {
	l.log(Info, v...)
}

func (l *Logger) Error(v ...interface{}) {
	l.log(Error, v...)
}

func (l *Logger) Warn(v ...interface{}) {
	l.log(Warn, v...)
}

func (l *Logger) Fatal(v ...interface{}) {
	l.log(Fatal, v...)
	l.Close()
	os.Exit(1)
}

// Close drains queued messages and releases the log file. It is safe to call
// more than once.
func (l *Logger) Close() {
	if l.m != nil {
		l.m.close()
	}
}

func (m *manager) close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.logChan != nil {
		close(m.logChan)
	}
	m.mu.Unlock()

	if m.done != nil {
		<-m.done
	}
	if m.zap != nil {
		_ = m.zap.Sync()
	}
	if m.logFile != nil {
		m.logFile.Close()
	}
}

func (t Types) toString() string {
	switch t {
	case Info:
		return "INFO"
	case Error:
		return "ERROR"
	case Warn:
		return "WARN"
	case Fatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}
