package events

const (
	//PinCreatedTopic is the topic new pins are announced on
	PinCreatedTopic = "events-pincreated"
	//PinDeletedTopic is the topic removed pins are announced on
	PinDeletedTopic = "events-pindeleted"
)

//PinCreated is an event that notifies that a pin has been added to the map
type PinCreated struct {
	ID        string `json:"id"`
	AuthorID  string `json:"authorId"`
	Category  string `json:"category"`
	Timestamp string `json:"timestamp"`
}

//TopicName returns the name of the topic that this event will be published on
func (pc *PinCreated) TopicName() string {
	return PinCreatedTopic
}

//ContentType returns the content type that this event will be sent as
func (pc *PinCreated) ContentType() string {
	return "application/json"
}

//PinDeleted is an event that notifies that a pin has been removed from the map
type PinDeleted struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
}

//TopicName returns the name of the topic that this event will be published on
func (pd *PinDeleted) TopicName() string {
	return PinDeletedTopic
}

//ContentType returns the content type that this event will be sent as
func (pd *PinDeleted) ContentType() string {
	return "application/json"
}
