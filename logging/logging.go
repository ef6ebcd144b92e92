package logging

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"www.velocidex.com/golang/memflow/config"
)

var (
	GenericComponent  = "memflow"
	FrontendComponent = "frontend"
	ClientComponent   = "client"
	ToolComponent     = "tool"

	mu      sync.Mutex
	manager *LogManager
)

// LogContext wraps a logrus logger dedicated to one component.
type LogContext struct {
	*logrus.Logger
}

func (self *LogContext) Info(format string, v ...interface{}) {
	if self.Logger != nil {
		self.Logger.Infof(format, v...)
	}
}

func (self *LogContext) Warn(format string, v ...interface{}) {
	if self.Logger != nil {
		self.Logger.Warnf(format, v...)
	}
}

func (self *LogContext) Error(format string, v ...interface{}) {
	if self.Logger != nil {
		self.Logger.Errorf(format, v...)
	}
}

func (self *LogContext) Debug(format string, v ...interface{}) {
	if self.Logger != nil {
		self.Logger.Debugf(format, v...)
	}
}

type LogManager struct {
	mu       sync.Mutex
	config   *config.Config
	contexts map[*string]*LogContext
}

// GetLogger returns the cached logger for the component.
func (self *LogManager) GetLogger(
	config_obj *config.Config, component *string) *LogContext {
	self.mu.Lock()
	defer self.mu.Unlock()

	ctx, pres := self.contexts[component]
	if !pres {
		ctx = self.makeNewComponent(config_obj, component)
		self.contexts[component] = ctx
	}
	return ctx
}

func (self *LogManager) makeNewComponent(
	config_obj *config.Config, component *string) *LogContext {

	logger := logrus.New()
	logger.Out = os.Stderr
	logger.Level = logrus.InfoLevel
	logger.Formatter = &logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
	}

	if config_obj != nil && config_obj.Logging != nil {
		if config_obj.Logging.Debug {
			logger.Level = logrus.DebugLevel
		}

		if config_obj.Logging.OutputDirectory != "" {
			fd, err := os.OpenFile(
				filepath.Join(config_obj.Logging.OutputDirectory,
					*component+".log"),
				os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
			if err == nil {
				logger.Out = fd
			}
		}
	}

	return &LogContext{logger}
}

func NewLogManager(config_obj *config.Config) *LogManager {
	return &LogManager{
		config:   config_obj,
		contexts: make(map[*string]*LogContext),
	}
}

func GetLogger(config_obj *config.Config, component *string) *LogContext {
	mu.Lock()
	if manager == nil {
		manager = NewLogManager(config_obj)
	}
	result := manager
	mu.Unlock()

	return result.GetLogger(config_obj, component)
}
