package models

import "time"

// RequiredSecurityQuestions is the exact number of pairs a user must store.
const RequiredSecurityQuestions = 3

// QuestionAnswer is a plaintext pair as submitted by the user.
type QuestionAnswer struct {
	Question string
	Answer   string
}

type SecurityQuestion struct {
	Question   string
	AnswerHash string
}

// SecurityQuestionSet is stored and replaced as a unit.
type SecurityQuestionSet struct {
	UserID    string
	Entries   [RequiredSecurityQuestions]SecurityQuestion
	UpdatedAt time.Time
}

func (s *SecurityQuestionSet) Questions() []string {
	questions := make([]string, 0, len(s.Entries))
	for _, e := range s.Entries {
		questions = append(questions, e.Question)
	}
	return questions
}
