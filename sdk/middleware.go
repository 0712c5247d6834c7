package sdk

import (
	"time"

	"github.com/syrou/reaktiv-devtools/internal/wire"
)

// Middleware hooks: the host's dispatch layer calls these on every
// state-changing event. Capture is synchronous under the engine's lock;
// network forwarding is fire-and-forget and can never block or fail the
// dispatch path.

// OnInitialState records the one-time baseline snapshot. The first call
// wins; later calls are ignored.
func (s *Session) OnInitialState(stateJSON string) {
	s.engine.CaptureInitialState(stateJSON)
}

// OnActionDispatched records a dispatched action and the delta it produced
// (the new state of exactly one named module). fullStateJSON is the
// resulting full state, forwarded to listeners while this client is the
// publisher.
func (s *Session) OnActionDispatched(actionType, actionData, moduleName, deltaJSON, fullStateJSON string) {
	a := wire.CapturedAction{
		ClientID:       s.cfg.ClientID,
		Timestamp:      time.Now().UnixMilli(),
		ActionType:     actionType,
		ActionData:     actionData,
		StateDeltaJSON: deltaJSON,
		ModuleName:     moduleName,
	}
	s.engine.CaptureAction(a)
	if s.client != nil {
		s.client.PublishAction(a, fullStateJSON)
	}
}

// OnLogicStarted records the start of an instrumented logic method call.
// callID correlates the eventual completion or failure.
func (s *Session) OnLogicStarted(callID, logicClass, methodName string, params map[string]string) {
	ev := wire.CapturedLogicStart{
		ClientID:   s.cfg.ClientID,
		Timestamp:  time.Now().UnixMilli(),
		CallID:     callID,
		LogicClass: logicClass,
		MethodName: methodName,
		Params:     params,
	}
	s.engine.CaptureLogicStarted(ev)
	if s.client != nil {
		s.client.PublishLogicStarted(ev)
	}
}

// OnLogicCompleted records a successful logic method completion.
func (s *Session) OnLogicCompleted(callID, result, resultType string, duration time.Duration) {
	ev := wire.CapturedLogicComplete{
		CallID:     callID,
		Result:     result,
		ResultType: resultType,
		DurationMs: duration.Milliseconds(),
	}
	s.engine.CaptureLogicCompleted(ev)
	if s.client != nil {
		s.client.PublishLogicCompleted(ev)
	}
}

// OnLogicFailed records a failed logic method call.
func (s *Session) OnLogicFailed(callID string, failure error, stackTrace string, duration time.Duration) {
	ev := wire.CapturedLogicFailed{
		CallID:     callID,
		DurationMs: duration.Milliseconds(),
		StackTrace: stackTrace,
	}
	if failure != nil {
		ev.ExceptionType = errorType(failure)
		ev.ExceptionMessage = failure.Error()
	}
	s.engine.CaptureLogicFailed(ev)
	if s.client != nil {
		s.client.PublishLogicFailed(ev)
	}
}

func errorType(err error) string {
	exc := wire.ExceptionFromError(err, nil)
	return exc.ExceptionType
}
