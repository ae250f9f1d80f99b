package planner

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/domain"
)

const extractSystem = `You are the user's planning assistant. Extract the list of tasks from the user's message and assign each one to a tag. Respect what the user says about how many reminders they want and which tag they belong to. Tags: [%s]. If the user asks for several reminders of the same thing, repeat the task that many times, but never return more than %d tasks in total. Answer with valid JSON only, no explanations, in the form {"tasks": [{"tag": "tagName", "text": "task title"}]}.`

const planSystem = `You are the user's planning assistant. Give every extracted task a time as close to now as possible, but not earlier than the current time %s (%s). Unless the message says otherwise and the tag window allows it, plan for today. Follow the user's wishes, keep a reasonable gap between tasks and prefer daytime over night unless asked. Tags and their planning windows: [%s]. The input is JSON with two fields: extracted_tasks, the tasks to schedule, and user_query, the original request. Answer with valid JSON only, no explanations, in the form {"tasks": [{"tag": "tagName", "text": "task title", "time": "%s"}]}, time strictly in the format %s.`

const adviseSystem = `You are an assistant helping the user get their tasks done. Think about what information could help with the task and write one short paragraph: a friendly opening line followed by concrete tips, one per line. The user is capable and knows what to do, so skip the obvious; if the task is too simple for a useful tip, just cheer them on instead. The input is the task text. Answer with valid JSON only, no explanations, in the form {"has_advisory": true, "advisory": "text"}.`

// dueFormatHint is the layout written the way people read it.
const dueFormatHint = "YYYY/MM/DD, HH:MM"

func extractPrompt(tagNames []string, maxTasks int) string {
	return fmt.Sprintf(extractSystem, strings.Join(tagNames, ", "), maxTasks)
}

func planPrompt(tags []domain.Tag, now time.Time, loc *time.Location) string {
	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		parts = append(parts, fmt.Sprintf("%s (%s)", t.Name, t.Window))
	}
	local := now.In(loc)
	return fmt.Sprintf(planSystem,
		domain.FormatDue(now, loc), local.Weekday(),
		strings.Join(parts, ", "),
		dueFormatHint, dueFormatHint,
	)
}

type planInput struct {
	ExtractedTasks []planTask `json:"extracted_tasks"`
	UserQuery      string     `json:"user_query"`
}

type planTask struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
}

func planUserMessage(tasks []Task, query string) (string, error) {
	in := planInput{UserQuery: query, ExtractedTasks: make([]planTask, 0, len(tasks))}
	for _, t := range tasks {
		in.ExtractedTasks = append(in.ExtractedTasks, planTask{Tag: t.Tag, Text: t.Text})
	}
	b, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
