package mapview

import (
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/catalog"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/domain"
)

//Phase of the draft pin lifecycle
type Phase int

const (
	Idle Phase = iota
	Drafting
	Submitting
)

func (p Phase) String() string {
	switch p {
	case Drafting:
		return "drafting"
	case Submitting:
		return "submitting"
	}
	return "idle"
}

//Draft is an unsaved pin held only by the map view
type Draft struct {
	Location domain.Point
	Severity domain.Severity
	Comment  string
}

//State is everything the map view renders besides the pins themselves. The active category and
//problem belong to the toolbar and survive between drafts.
type State struct {
	Phase     Phase
	Category  string
	ProblemID string
	Draft     *Draft
	Route     *domain.Route
	Err       error
}

//Initial returns an idle state with the first category of the catalog and its first problem selected
func Initial(c *catalog.Catalog) State {
	first := c.First()
	return State{
		Phase:     Idle,
		Category:  first.Key,
		ProblemID: first.Problems[0].ID,
	}
}

//NewPin returns the fields a submit would send, and false when there is no draft
func (s State) NewPin() (domain.NewPin, bool) {
	if s.Draft == nil {
		return domain.NewPin{}, false
	}

	return domain.NewPin{
		Location:  s.Draft.Location,
		Category:  s.Category,
		ProblemID: s.ProblemID,
		Severity:  s.Draft.Severity,
		Comment:   s.Draft.Comment,
	}, true
}

//Action is an input to Reduce
type Action interface {
	isAction()
}

type (
	//Click places a new draft, replacing any existing one
	Click struct{ At domain.Point }
	//SelectCategory activates a category and its first problem
	SelectCategory struct{ Key string }
	//SelectProblem picks a problem of the active category
	SelectProblem struct{ ID string }
	//SelectSeverity rates the draft
	SelectSeverity struct{ Severity domain.Severity }
	//SetComment replaces the draft comment
	SetComment struct{ Text string }
	//Submit starts sending the draft. Without an identity the draft stays and ErrAuthRequired is shown.
	Submit struct{ Authenticated bool }
	//SubmitSucceeded ends a submit, discarding the draft
	SubmitSucceeded struct{}
	//SubmitFailed ends a submit, keeping the draft
	SubmitFailed struct{ Err error }
	//Cancel discards the draft
	Cancel struct{}
	//RouteTraced replaces the route
	RouteTraced struct{ Route domain.Route }
	//RouteFailed shows the error and keeps any previous route
	RouteFailed struct{ Err error }
	//ShowError surfaces an error from an action outside the draft lifecycle
	ShowError struct{ Err error }
	//DismissError hides the current error
	DismissError struct{}
)

func (Click) isAction()           {}
func (SelectCategory) isAction()  {}
func (SelectProblem) isAction()   {}
func (SelectSeverity) isAction()  {}
func (SetComment) isAction()      {}
func (Submit) isAction()          {}
func (SubmitSucceeded) isAction() {}
func (SubmitFailed) isAction()    {}
func (Cancel) isAction()          {}
func (RouteTraced) isAction()     {}
func (RouteFailed) isAction()     {}
func (ShowError) isAction()       {}
func (DismissError) isAction()    {}

//Reduce returns the state that follows s when a happens. Actions that make no sense in the
//current phase leave the state as it is. s is never modified.
func Reduce(c *catalog.Catalog, s State, a Action) State {
	if s.Draft != nil {
		draft := *s.Draft
		s.Draft = &draft
	}

	switch a := a.(type) {
	case Click:
		if s.Phase == Submitting {
			return s
		}
		s.Phase = Drafting
		s.Draft = &Draft{Location: a.At, Severity: domain.DefaultSeverity}
		s.Err = nil

	case SelectCategory:
		if s.Phase == Submitting {
			return s
		}
		if problem, ok := c.FirstProblem(a.Key); ok {
			s.Category = a.Key
			s.ProblemID = problem.ID
		}

	case SelectProblem:
		if s.Phase == Submitting {
			return s
		}
		if _, ok := c.Problem(s.Category, a.ID); ok {
			s.ProblemID = a.ID
		}

	case SelectSeverity:
		if s.Phase != Drafting {
			return s
		}
		if sev, err := domain.ParseSeverity(string(a.Severity)); err == nil && sev != "" {
			s.Draft.Severity = sev
		}

	case SetComment:
		if s.Phase == Drafting {
			s.Draft.Comment = a.Text
		}

	case Submit:
		if s.Phase != Drafting {
			return s
		}
		if !a.Authenticated {
			s.Err = domain.ErrAuthRequired
			return s
		}
		s.Phase = Submitting
		s.Err = nil

	case SubmitSucceeded:
		if s.Phase == Submitting {
			s.Phase = Idle
			s.Draft = nil
		}

	case SubmitFailed:
		if s.Phase == Submitting {
			s.Phase = Drafting
			s.Err = a.Err
		}

	case Cancel:
		if s.Phase == Drafting {
			s.Phase = Idle
			s.Draft = nil
			s.Err = nil
		}

	case RouteTraced:
		route := a.Route
		s.Route = &route

	case RouteFailed:
		s.Err = a.Err

	case ShowError:
		s.Err = a.Err

	case DismissError:
		s.Err = nil
	}

	return s
}
