package application

import "context"

// OptimisticAction applies Next before Effect runs. When Effect fails the state
// is restored to Fallback if set, else to the snapshot taken before Apply.
// Cleanup always runs.
type OptimisticAction[T any] struct {
	Read     func() T
	Write    func(T)
	Next     T
	Fallback *T
	Effect   func(ctx context.Context) error
	Cleanup  func()
}

func (a OptimisticAction[T]) Run(ctx context.Context) error {
	if a.Cleanup != nil {
		defer a.Cleanup()
	}
	prev := a.Read()
	a.Write(a.Next)
	if err := a.Effect(ctx); err != nil {
		if a.Fallback != nil {
			a.Write(*a.Fallback)
		} else {
			a.Write(prev)
		}
		return err
	}
	return nil
}
