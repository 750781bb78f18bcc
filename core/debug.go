package core

// DebugWriter emits one line of firmware debug output
type DebugWriter func(string)

// Debug levels, lowest is most severe
type Level uint8

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

var levelPrefix = [...]string{"[error] ", "[warn] ", "[info] ", "[debug] "}

// Acquisition event codes for the post-mortem ring
const (
	EvtBufferOpen   = 1
	EvtBurstDone    = 2
	EvtBurstTimeout = 3
	EvtStopTimeout  = 4
	EvtOverrun      = 5
	EvtBufferClose  = 6
	EvtEmergency    = 7
	EvtStreamDone   = 8
)

// Event is one acquisition milestone
type Event struct {
	Kind  uint8
	Dev   uint8
	Clock uint32
	Value uint32
}

const EventRingSize = 32

var (
	debugPrintln DebugWriter = func(string) {}
	debugLevel               = LevelWarn

	eventRing     [EventRingSize]Event
	eventRingHead uint8

	debugChan chan string
)

// SetDebugWriter redirects firmware debug output, e.g. to a UART
func SetDebugWriter(writer DebugWriter) {
	if writer == nil {
		writer = func(string) {}
	}
	debugPrintln = writer
}

// SetDebugLevel drops messages less severe than level
func SetDebugLevel(level Level) {
	debugLevel = level
}

// SetDebugEnabled switches between full debug output and errors only
func SetDebugEnabled(enabled bool) {
	if enabled {
		debugLevel = LevelDebug
	} else {
		debugLevel = LevelError
	}
}

func IsDebugEnabled() bool {
	return debugLevel >= LevelDebug
}

func logAt(level Level, msg string) {
	if level > debugLevel {
		return
	}
	line := levelPrefix[level] + msg
	if debugChan != nil {
		select {
		case debugChan <- line:
		default:
			// Full, drop
		}
		return
	}
	debugPrintln(line)
}

func LogError(msg string) { logAt(LevelError, msg) }
func LogWarn(msg string)  { logAt(LevelWarn, msg) }
func LogInfo(msg string)  { logAt(LevelInfo, msg) }
func LogDebug(msg string) { logAt(LevelDebug, msg) }

// DebugPrintln writes at debug level
func DebugPrintln(msg string) {
	logAt(LevelDebug, msg)
}

// InitAsyncDebug moves output to a goroutine so slow writers never stall
// the command loop
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go func() {
		for msg := range debugChan {
			debugPrintln(msg)
		}
	}()
}

// RecordEvent stores an acquisition event in the ring
func RecordEvent(kind, dev uint8, clock, value uint32) {
	idx := eventRingHead
	eventRing[idx] = Event{Kind: kind, Dev: dev, Clock: clock, Value: value}
	eventRingHead = (idx + 1) % EventRingSize
}

// Events returns the recorded events, oldest first
func Events() []Event {
	out := make([]Event, 0, EventRingSize)
	for i := uint8(0); i < EventRingSize; i++ {
		e := eventRing[(eventRingHead+i)%EventRingSize]
		if e.Kind != 0 {
			out = append(out, e)
		}
	}
	return out
}

func eventName(kind uint8) string {
	switch kind {
	case EvtBufferOpen:
		return "BUFFER_OPEN"
	case EvtBurstDone:
		return "BURST_DONE"
	case EvtBurstTimeout:
		return "BURST_TIMEOUT"
	case EvtStopTimeout:
		return "STOP_TIMEOUT"
	case EvtOverrun:
		return "OVERRUN"
	case EvtBufferClose:
		return "BUFFER_CLOSE"
	case EvtEmergency:
		return "EMERGENCY_STOP"
	case EvtStreamDone:
		return "STREAM_DONE"
	}
	return "UNKNOWN"
}

// DumpEvents writes the ring through the debug writer regardless of level
func DumpEvents() {
	debugPrintln("[EVENTS] === Acquisition Event Dump ===")
	for _, e := range Events() {
		debugPrintln("[EVENTS] " + eventName(e.Kind) +
			" dev=" + itoa(int(e.Dev)) +
			" clock=" + utoa(e.Clock) +
			" v=" + utoa(e.Value))
	}
	debugPrintln("[EVENTS] === End Dump ===")
}

// ClearEvents empties the ring
func ClearEvents() {
	for i := range eventRing {
		eventRing[i] = Event{}
	}
	eventRingHead = 0
}
