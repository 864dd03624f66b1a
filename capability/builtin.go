package capability

import "errors"

// ErrMentionsRequired is the precondition failure for capabilities that
// operate on specific notes.
var ErrMentionsRequired = errors.New("requires note mentions: reference at least one note with @")

func requireMentions(_ map[string]string, rc Context) error {
	if rc.MentionCount < 1 {
		return ErrMentionsRequired
	}
	return nil
}

// DefaultRegistry builds the registry with the built-in capability set:
// test generation, flashcard generation, and course search.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}

	must(r.Register(&Descriptor{
		ID:           "test",
		FunctionName: "generate_test",
		Description:  "Generate a practice test from one or more of the user's notes. Use when the user asks for a test, quiz, exam, or practice questions.",
		Keywords:     []string{"test", "quiz", "exam", "practice questions"},
		Examples: []string{
			"turn @[Lecture1](n1) into a test",
			"quiz me on @[Biology Notes](n2)",
		},
		Validate: requireMentions,
	}))

	must(r.Register(&Descriptor{
		ID:           "flashcard",
		FunctionName: "generate_flashcards",
		Description:  "Generate flashcards from one or more of the user's notes. Use when the user asks for flashcards, study cards, or spaced-repetition material.",
		Keywords:     []string{"flashcards", "cards", "anki", "study cards"},
		Examples: []string{
			"make flashcards from @[Chapter 3](n7)",
		},
		Validate: requireMentions,
	}))

	must(r.Register(&Descriptor{
		ID:           "course_search",
		FunctionName: "search_courses",
		Description:  "Search the course catalog. Use when the user asks to find courses, optionally scoped to a school or department. Only set school or department when the user names them explicitly.",
		Keywords:     []string{"course", "courses", "class", "catalog"},
		Examples: []string{
			"find CS courses at MIT",
			"what courses are there on linear algebra?",
		},
		Parameters: &Schema{
			Type: "object",
			Properties: map[string]Property{
				"school": {
					Type:        "string",
					Description: "School name, only if the user named one",
				},
				"department": {
					Type:        "string",
					Description: "Department name, only if the user named one",
				},
			},
		},
	}))

	return r
}
