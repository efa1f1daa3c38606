package rules

// Notifier receives a fire-and-forget signal after every successful rule
// mutation so UI surfaces can re-render. Implementations must not block.
type Notifier interface {
	RulesChanged()
}

// nopNotifier is the default when no broadcast channel is wired.
type nopNotifier struct{}

func (nopNotifier) RulesChanged() {}
