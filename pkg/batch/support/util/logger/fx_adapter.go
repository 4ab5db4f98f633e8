package logger

import (
	"strings"

	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// FxLogger routes fx lifecycle events to the framework logger.
// Wiring noise (provides, invokes, hooks) is logged at DEBUG; failures at ERROR.
type FxLogger struct {
	log *zap.Logger
}

// NewFxLogger creates a new fxevent.Logger backed by the shared zap core.
func NewFxLogger() fxevent.Logger {
	return &FxLogger{log: Zap().Named("fx").WithOptions(zap.AddCallerSkip(-1))}
}

// LogEvent logs events from Fx.
func (l *FxLogger) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuting:
		l.log.Debug("OnStart hook executing", zap.String("callee", shortFuncName(e.FunctionName)))
	case *fxevent.OnStartExecuted:
		if e.Err != nil {
			l.log.Error("OnStart hook failed", zap.String("callee", shortFuncName(e.FunctionName)), zap.Error(e.Err))
		} else {
			l.log.Debug("OnStart hook executed", zap.String("callee", shortFuncName(e.FunctionName)), zap.Duration("runtime", e.Runtime))
		}
	case *fxevent.OnStopExecuted:
		if e.Err != nil {
			l.log.Error("OnStop hook failed", zap.String("callee", shortFuncName(e.FunctionName)), zap.Error(e.Err))
		}
	case *fxevent.Supplied:
		if e.Err != nil {
			l.log.Error("supply failed", zap.String("type", e.TypeName), zap.Error(e.Err))
		}
	case *fxevent.Provided:
		if e.Err != nil {
			l.log.Error("provide failed", zap.String("constructor", e.ConstructorName), zap.Error(e.Err))
			return
		}
		for _, t := range e.OutputTypeNames {
			l.log.Debug("provided", zap.String("type", t))
		}
	case *fxevent.Invoked:
		if e.Err != nil {
			l.log.Error("invoke failed", zap.String("function", e.FunctionName), zap.Error(e.Err))
		}
	case *fxevent.Stopping:
		l.log.Info("received signal", zap.String("signal", strings.ToUpper(e.Signal.String())))
	case *fxevent.Stopped:
		if e.Err != nil {
			l.log.Error("stop failed", zap.Error(e.Err))
		}
	case *fxevent.RollingBack:
		l.log.Error("start failed, rolling back", zap.Error(e.StartErr))
	case *fxevent.RolledBack:
		if e.Err != nil {
			l.log.Error("rollback failed", zap.Error(e.Err))
		}
	case *fxevent.Started:
		if e.Err != nil {
			l.log.Error("start failed", zap.Error(e.Err))
		} else {
			l.log.Debug("application started")
		}
	case *fxevent.LoggerInitialized:
		if e.Err != nil {
			l.log.Error("custom logger initialization failed", zap.Error(e.Err))
		}
	}
}

// shortFuncName strips the anonymous ".funcN" suffix fx reports for closures.
func shortFuncName(funcName string) string {
	if idx := strings.LastIndex(funcName, ".func"); idx != -1 {
		return funcName[:idx]
	}
	return funcName
}
