package log4gox

import (
	"fmt"
	"io"
	"os"
	"strings"

	l4g "github.com/alecthomas/log4go"
	"github.com/pkg/errors"
)

/*
前景色            背景色           颜色
---------------------------------------
30                40              黑色
31                41              红色
32                42              绿色
33                43              黃色
34                44              蓝色
35                45              紫红色
36                46              青蓝色
37                47              白色
*/
var (
	levelColor   = [...]int{30, 30, 32, 37, 37, 33, 31, 34}
	levelStrings = [...]string{"FNST", "FINE", "DEBG", "TRAC", "INFO", "WARN", "EROR", "CRIT"}
)

const (
	colorSymbol = 0x1B
)

// ConsoleLogWriter 彩色控制台输出
type ConsoleLogWriter struct {
	records chan *l4g.LogRecord
	done    chan struct{}
}

// NewColorConsoleLogWriter 输出到标准输出
func NewColorConsoleLogWriter() *ConsoleLogWriter {
	return NewColorLogWriter(os.Stdout)
}

// NewColorLogWriter 输出到out
func NewColorLogWriter(out io.Writer) *ConsoleLogWriter {
	w := &ConsoleLogWriter{
		records: make(chan *l4g.LogRecord, l4g.LogBufferLength),
		done:    make(chan struct{}),
	}
	go w.run(out)
	return w
}

func (w *ConsoleLogWriter) run(out io.Writer) {
	defer close(w.done)

	var timestr string
	var timestrAt int64

	for rec := range w.records {
		if at := rec.Created.UnixNano() / 1e9; at != timestrAt {
			timestr, timestrAt = rec.Created.Format("01/02/06 15:04:05"), at
		}
		fmt.Fprintf(out, "%c[%dm[%s] [%s] (%s) %s\n%c[0m",
			colorSymbol,
			levelColor[rec.Level],
			timestr,
			levelStrings[rec.Level],
			rec.Source,
			rec.Message,
			colorSymbol)
	}
}

// LogWrite blocks when the buffer is full
func (w *ConsoleLogWriter) LogWrite(rec *l4g.LogRecord) {
	w.records <- rec
}

// Close flushes pending records
func (w *ConsoleLogWriter) Close() {
	close(w.records)
	<-w.done
}

// ParseLevel 日志等级
func ParseLevel(s string) (l4g.Level, error) {
	switch strings.ToLower(s) {
	case "finest":
		return l4g.FINEST, nil
	case "fine":
		return l4g.FINE, nil
	case "debug", "":
		return l4g.DEBUG, nil
	case "trace":
		return l4g.TRACE, nil
	case "info":
		return l4g.INFO, nil
	case "warn", "warning":
		return l4g.WARNING, nil
	case "error":
		return l4g.ERROR, nil
	case "critical":
		return l4g.CRITICAL, nil
	}
	return l4g.DEBUG, errors.Errorf("unknown log level %q", s)
}

// Setup 替换全局日志: 彩色控制台 + 可选文件
func Setup(level, file string) error {
	lvl, err := ParseLevel(level)
	if nil != err {
		return err
	}

	l4g.Close()
	l4g.Global = make(l4g.Logger)
	l4g.AddFilter("color", lvl, NewColorConsoleLogWriter())

	if len(file) > 0 {
		fw := l4g.NewFileLogWriter(file, false)
		if nil == fw {
			return errors.Errorf("open log file %s failed", file)
		}
		l4g.AddFilter("file", lvl, fw)
	}
	return nil
}
