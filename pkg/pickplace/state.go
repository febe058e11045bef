package pickplace

// Phase is a step of the pick-and-place cycle.
type Phase int

const (
	Waiting Phase = iota
	Grasping
	MovingToDrop
	Releasing
	MovingHome
)

func (p Phase) String() string {
	switch p {
	case Waiting:
		return "WAITING"
	case Grasping:
		return "GRASPING"
	case MovingToDrop:
		return "MOVING_TO_DROP"
	case Releasing:
		return "RELEASING"
	case MovingHome:
		return "MOVING_HOME"
	default:
		return "UNKNOWN"
	}
}

// State is everything the controller carries from one tick to the next.
type State struct {
	Phase     Phase
	HasObject bool
}

// InitialState is the state before the first tick.
func InitialState() State {
	return State{Phase: Waiting}
}

// Transition is one edge of the cycle.
type Transition struct {
	From    Phase
	To      Phase
	Trigger string
}

// Transitions is the complete cycle. There is no terminal phase.
var Transitions = [...]Transition{
	{From: Waiting, To: Grasping, Trigger: "object detected"},
	{From: Grasping, To: MovingToDrop, Trigger: "grasp confirmed"},
	{From: MovingToDrop, To: Releasing, Trigger: "drop pose reached"},
	{From: Releasing, To: MovingHome, Trigger: "gripper open"},
	{From: MovingHome, To: Waiting, Trigger: "home pose reached"},
}

// transitionFrom returns the edge leaving p.
func transitionFrom(p Phase) Transition {
	for _, t := range Transitions {
		if t.From == p {
			return t
		}
	}
	panic("pickplace: no transition from " + p.String())
}

// Next returns the phase that follows p.
func Next(p Phase) Phase {
	return transitionFrom(p).To
}

// advance returns the state after leaving s.Phase. The object is picked up
// when the grasp is confirmed and let go once the gripper has opened.
func (s State) advance() State {
	next := State{Phase: Next(s.Phase), HasObject: s.HasObject}
	switch next.Phase {
	case MovingToDrop:
		next.HasObject = true
	case MovingHome:
		next.HasObject = false
	}
	return next
}
