// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package tool

import (
	"fmt"
	"strings"
	"sync"
)

// TaskStatus is the state of one task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// Task is one item of a session's task list.
type Task struct {
	Content    string     `json:"content"`
	ActiveForm string     `json:"activeForm"`
	Status     TaskStatus `json:"status"`
}

func (s TaskStatus) icon() string {
	switch s {
	case TaskPending:
		return "[ ]"
	case TaskInProgress:
		return "[>]"
	case TaskCompleted:
		return "[x]"
	default:
		return "[?]"
	}
}

// TaskList is owned by a single session.
type TaskList struct {
	mu    sync.Mutex
	tasks []Task
}

// NewTaskList returns an empty list.
func NewTaskList() *TaskList {
	return &TaskList{}
}

// Replace swaps the whole list.
func (l *TaskList) Replace(tasks []Task) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tasks = append([]Task(nil), tasks...)
}

// Tasks returns a copy of the list.
func (l *TaskList) Tasks() []Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Task(nil), l.tasks...)
}

// Clear empties the list.
func (l *TaskList) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tasks = nil
}

// Counts returns pending, in-progress and completed totals.
func (l *TaskList) Counts() (pending, inProgress, completed int) {
	for _, t := range l.Tasks() {
		switch t.Status {
		case TaskPending:
			pending++
		case TaskInProgress:
			inProgress++
		case TaskCompleted:
			completed++
		}
	}
	return pending, inProgress, completed
}

// Summary renders the list after an update.
func (l *TaskList) Summary() string {
	var b strings.Builder
	b.WriteString("Todo List Updated:")
	for _, t := range l.Tasks() {
		fmt.Fprintf(&b, "\n  %s %s", t.Status.icon(), t.Content)
	}
	p, ip, c := l.Counts()
	fmt.Fprintf(&b, "\n\n  (%d pending, %d in progress, %d completed)", p, ip, c)
	return b.String()
}

// Render lists the tasks with their numbers, naming the active form of the
// task in progress.
func (l *TaskList) Render() string {
	tasks := l.Tasks()
	if len(tasks) == 0 {
		return "No todos. Use todo_write to create a task list."
	}

	var b strings.Builder
	b.WriteString("Current Todos:")
	for i, t := range tasks {
		fmt.Fprintf(&b, "\n  %d. %s %s", i+1, t.Status.icon(), t.Content)
		if t.Status == TaskInProgress && t.ActiveForm != "" {
			fmt.Fprintf(&b, " (currently: %s)", t.ActiveForm)
		}
	}
	return b.String()
}

// Current returns the content of the first in-progress task.
func (l *TaskList) Current() (string, bool) {
	for _, t := range l.Tasks() {
		if t.Status == TaskInProgress {
			return t.Content, true
		}
	}
	return "", false
}

// Pending returns the content of every pending task in order.
func (l *TaskList) Pending() []string {
	var out []string
	for _, t := range l.Tasks() {
		if t.Status == TaskPending {
			out = append(out, t.Content)
		}
	}
	return out
}
