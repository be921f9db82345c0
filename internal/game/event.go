package game

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType enum for event classification
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypeBattleStart
	EventTypeBattleStop
	EventTypeUnitSpawn
	EventTypeUnitState
	EventTypeAttack
	EventTypeUnitKilled
	EventTypeBuildingPlaced
	EventTypeBuildingDestroyed
	EventTypeBuildingUpgraded
	EventTypeCellChanged
	EventTypePathSearch
)

// EventVersion for backwards compatibility in replay
const EventVersion uint8 = 1

// Event is the core event structure for the event log
type Event struct {
	Version   uint8           `json:"version"`
	Type      EventType       `json:"type"`
	Timestamp int64           `json:"timestamp"` // Unix nano
	Sequence  uint64          `json:"sequence"`  // Monotonic sequence
	TickNum   uint64          `json:"tickNum"`
	BattleID  string          `json:"battleId"`
	EntityID  string          `json:"entityId,omitempty"` // source entity (for rate limiting)
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// String returns human-readable event type
func (t EventType) String() string {
	switch t {
	case EventTypeBattleStart:
		return "battle_start"
	case EventTypeBattleStop:
		return "battle_stop"
	case EventTypeUnitSpawn:
		return "unit_spawn"
	case EventTypeUnitState:
		return "unit_state"
	case EventTypeAttack:
		return "attack"
	case EventTypeUnitKilled:
		return "unit_killed"
	case EventTypeBuildingPlaced:
		return "building_placed"
	case EventTypeBuildingDestroyed:
		return "building_destroyed"
	case EventTypeBuildingUpgraded:
		return "building_upgraded"
	case EventTypeCellChanged:
		return "cell_changed"
	case EventTypePathSearch:
		return "path_search"
	default:
		return "unknown"
	}
}

// MarshalText writes the event type by name so the JSONL log stays readable.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a name written by MarshalText.
func (t *EventType) UnmarshalText(text []byte) error {
	for c := EventTypeUnknown; c <= EventTypePathSearch; c++ {
		if c.String() == string(text) {
			*t = c
			return nil
		}
	}
	return fmt.Errorf("unknown event type %q", text)
}

// Typed payloads for different event types

// BattlePayload marks a battle start or stop
type BattlePayload struct {
	Units     int `json:"units"`
	Buildings int `json:"buildings"`
}

// UnitSpawnPayload contains unit spawn details
type UnitSpawnPayload struct {
	Archetype string  `json:"archetype"`
	Team      string  `json:"team"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

// UnitStatePayload records a state machine transition
type UnitStatePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// AttackPayload contains attack event details
type AttackPayload struct {
	TargetID string  `json:"targetId"`
	Damage   float64 `json:"damage"`
	TargetHP float64 `json:"targetHp"`
}

// KillPayload contains death details for units and buildings
type KillPayload struct {
	Kind string  `json:"kind"`
	Team string  `json:"team"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// BuildingPayload contains building placement and upgrade details
type BuildingPayload struct {
	BuildingKind string  `json:"buildingKind"`
	Team         string  `json:"team"`
	CellX        int     `json:"cellX"`
	CellY        int     `json:"cellY"`
	Level        int     `json:"level"`
	MaxHP        float64 `json:"maxHp"`
}

// PathSearchPayload summarizes one A* request
type PathSearchPayload struct {
	Result    string `json:"result"`
	Expanded  int    `json:"expanded"`
	Waypoints int    `json:"waypoints"`
	Micros    int64  `json:"micros"`
}

// EncodePayload marshals a payload to JSON bytes
func EncodePayload(payload interface{}) json.RawMessage {
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, tickNum uint64, entityID string, payload interface{}) Event {
	return Event{
		Version:   EventVersion,
		Type:      eventType,
		Timestamp: time.Now().UnixNano(),
		TickNum:   tickNum,
		EntityID:  entityID,
		Payload:   EncodePayload(payload),
	}
}
