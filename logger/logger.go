package logger

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus with the property-map style used across the codebase.
type Logger struct {
	entry *logrus.Logger
}

var (
	instance *Logger
	once     sync.Once
)

// GetLogger returns the singleton logger instance.
func GetLogger() *Logger {
	once.Do(func() {
		instance = setupLogger()
	})
	return instance
}

// L is shorthand for GetLogger.
func L() *Logger {
	return GetLogger()
}

func setupLogger() *Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "02-01-06 15:04:05.000",
	})

	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}

	return &Logger{entry: log}
}

func (l *Logger) withProps(props []map[string]interface{}) *logrus.Entry {
	if len(props) > 0 && props[0] != nil {
		return l.entry.WithFields(logrus.Fields(props[0]))
	}
	return logrus.NewEntry(l.entry)
}

func (l *Logger) Info(msg string, props ...map[string]interface{}) {
	l.withProps(props).Info(msg)
}

func (l *Logger) Error(msg string, props ...map[string]interface{}) {
	l.withProps(props).Error(msg)
}

func (l *Logger) Debug(msg string, props ...map[string]interface{}) {
	l.withProps(props).Debug(msg)
}

func (l *Logger) Fatal(msg string, props ...map[string]interface{}) {
	l.withProps(props).Fatal(msg)
}
