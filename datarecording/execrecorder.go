package datarecording

import (
	"os"
	"strings"
	"time"
)

// ExecTable is the table recording how and when the program ran.
const ExecTable = "exec_info"

// ExecInfo is one property of the recorded execution.
type ExecInfo struct {
	Property string
	Value    string
}

const timeFormat = "2006-01-02 15:04:05.000000000"

type execRecorder struct {
	recorder DataRecorder
	entries  []ExecInfo
}

func newExecRecorder(recorder DataRecorder) *execRecorder {
	e := &execRecorder{recorder: recorder}
	recorder.CreateTable(ExecTable, ExecInfo{})

	return e
}

// Start notes the start time, command line and working directory.
func (e *execRecorder) Start() {
	e.entries = append(e.entries,
		ExecInfo{"Start Time", time.Now().Format(timeFormat)},
		ExecInfo{"Command", strings.Join(os.Args, " ")},
	)

	if cwd, err := os.Getwd(); err == nil {
		e.entries = append(e.entries, ExecInfo{"Working Directory", cwd})
	}
}

// End inserts the collected entries along with the end time.
func (e *execRecorder) End() {
	for _, entry := range e.entries {
		e.recorder.InsertData(ExecTable, entry)
	}

	e.recorder.InsertData(ExecTable,
		ExecInfo{"End Time", time.Now().Format(timeFormat)})

	e.entries = nil
}
