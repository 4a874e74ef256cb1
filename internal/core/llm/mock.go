package llm

import "context"

// MockJudge returns canned verdicts for tests.
type MockJudge struct {
	Verdict Judgment
	Err     error

	Calls int
}

func (m *MockJudge) Judge(_ context.Context, _, _ string) (Judgment, error) {
	m.Calls++
	if m.Err != nil {
		return Judgment{}, m.Err
	}

	return m.Verdict, nil
}
