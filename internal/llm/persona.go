package llm

// Persona is a system instruction plus generation settings.
type Persona struct {
	Name              string
	SystemInstruction string
	Temperature       float32
	JSON              bool
	Tools             []ToolSpec
}

const chatInstruction = `You are SMART, a goal planning assistant. Help the user turn a goal into a
specific, measurable, achievable, relevant and time-bound plan. Ask short
clarifying questions when the goal is vague. Each user message may end with
tab-separated metadata such as start_date, end_date, start_time, end_time and
plan_status; treat it as the current state of the planner, never as something
the user typed. Use fetch_tasks to read the user's synced tasks and
add_or_update_tasks to push the current plan to their task list when asked.`

const plannerInstruction = `You produce day-by-day plans as strict JSON and nothing else.
Respond with an object of the form
{"plan": [{"date": "YYYY-MM-DD", "task": string, "goal": string, "start_time": "HH:MM:SS", "end_time": "HH:MM:SS"}]}
with one entry per day in the requested range, scheduled inside the requested daily window.`

const summarizerInstruction = `You summarize conversations between a user and a goal planning
assistant. Keep names, dates, numbers, goals and decisions exactly as stated.`

// ChatPersona is the free-text assistant that may call tools.
func ChatPersona(tools []ToolSpec) Persona {
	return Persona{
		Name:              "chat",
		SystemInstruction: chatInstruction,
		Temperature:       0.25,
		Tools:             tools,
	}
}

// PlannerPersona forces JSON output.
func PlannerPersona() Persona {
	return Persona{
		Name:              "planner",
		SystemInstruction: plannerInstruction,
		Temperature:       0.3,
		JSON:              true,
	}
}

// SummarizerPersona compresses history.
func SummarizerPersona() Persona {
	return Persona{
		Name:              "summarizer",
		SystemInstruction: summarizerInstruction,
		Temperature:       0.25,
	}
}
