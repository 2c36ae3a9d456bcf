package bridge

import "encoding/json"

// changeTable identifies which record table a notification refers to.
type changeTable string

const (
	tablePlayers changeTable = "roomplayers"
	tableState   changeTable = "roomstate"
)

// changeNotification is the envelope carried on the Postgres NOTIFY
// channel and on NATS subjects. It names the room and table only; the
// receiver re-reads the store rather than trusting a payload.
type changeNotification struct {
	RoomID string      `json:"room_id"`
	Table  changeTable `json:"table"`
}

func (c changeNotification) encode() string {
	b, _ := json.Marshal(c)
	return string(b)
}

func decodeChange(payload []byte) (changeNotification, error) {
	var c changeNotification
	err := json.Unmarshal(payload, &c)
	return c, err
}
