package tools

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/djensenius/FluxHaus-Server-sub000/internal/devices"
)

// Capabilities bundles the device collaborators a tool execution may touch.
type Capabilities struct {
	Car    devices.Car
	Mopbot devices.Mopbot
	Home   devices.Home
}

// handler executes one tool and returns the result string fed back to the
// model.
type handler func(ctx context.Context, args map[string]interface{}, caps Capabilities) string

// Executor dispatches tool calls to device capabilities. Arguments are
// validated by the calling provider adapter against the registry schema; the
// executor trusts that boundary and does not re-validate.
type Executor struct {
	handlers    map[string]handler
	resyncDelay time.Duration
}

const defaultResyncDelay = 5 * time.Second

// NewExecutor creates an executor. A zero resyncDelay selects the default of
// five seconds.
func NewExecutor(resyncDelay time.Duration) *Executor {
	if resyncDelay == 0 {
		resyncDelay = defaultResyncDelay
	}
	e := &Executor{resyncDelay: resyncDelay}
	e.handlers = map[string]handler{
		"lock_car":          e.handleLockCar,
		"unlock_car":        e.handleUnlockCar,
		"start_car_climate": e.handleStartCarClimate,
		"stop_car_climate":  e.handleStopCarClimate,
		"get_car_status":    e.handleGetCarStatus,
		"start_mopbot":      e.handleStartMopbot,
		"stop_mopbot":       e.handleStopMopbot,
		"dock_mopbot":       e.handleDockMopbot,
		"get_mopbot_status": e.handleGetMopbotStatus,
		"list_entities":     e.handleListEntities,
		"get_entity_state":  e.handleGetEntityState,
		"turn_on_entity":    e.handleTurnOnEntity,
		"turn_off_entity":   e.handleTurnOffEntity,
	}
	return e
}

// Execute runs the named tool. A name outside the registry yields a soft
// "Unknown tool" result rather than an error so the model can recover
// conversationally.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]interface{}, caps Capabilities) string {
	h, ok := e.handlers[name]
	if !ok {
		return "Unknown tool: " + name
	}
	return h(ctx, args, caps)
}

// scheduleResync refreshes device state a few seconds after a mutating
// command, once the device has had time to settle. Failures are logged and
// swallowed: they must never block the tool result from reaching the model.
func (e *Executor) scheduleResync(target string, resync func(context.Context) error) {
	time.AfterFunc(e.resyncDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := resync(ctx); err != nil {
			log.Printf("status resync failed for %s: %v", target, err)
		}
	})
}

func (e *Executor) handleLockCar(ctx context.Context, _ map[string]interface{}, caps Capabilities) string {
	if err := caps.Car.Lock(ctx); err != nil {
		return "Failed to lock car: " + err.Error()
	}
	e.scheduleResync("car", caps.Car.Resync)
	return "Car locked."
}

func (e *Executor) handleUnlockCar(ctx context.Context, _ map[string]interface{}, caps Capabilities) string {
	if err := caps.Car.Unlock(ctx); err != nil {
		return "Failed to unlock car: " + err.Error()
	}
	e.scheduleResync("car", caps.Car.Resync)
	return "Car unlocked."
}

func (e *Executor) handleStartCarClimate(ctx context.Context, args map[string]interface{}, caps Capabilities) string {
	var temperature *float64
	if t, ok := args["temperature"].(float64); ok {
		temperature = &t
	}
	if err := caps.Car.StartClimate(ctx, temperature); err != nil {
		return "Failed to start car climate: " + err.Error()
	}
	e.scheduleResync("car", caps.Car.Resync)
	return "Car climate started."
}

func (e *Executor) handleStopCarClimate(ctx context.Context, _ map[string]interface{}, caps Capabilities) string {
	if err := caps.Car.StopClimate(ctx); err != nil {
		return "Failed to stop car climate: " + err.Error()
	}
	e.scheduleResync("car", caps.Car.Resync)
	return "Car climate stopped."
}

func (e *Executor) handleGetCarStatus(ctx context.Context, _ map[string]interface{}, caps Capabilities) string {
	status, err := caps.Car.Status(ctx)
	if err != nil {
		return "Failed to get car status: " + err.Error()
	}
	return marshalSnapshot(status)
}

func (e *Executor) handleStartMopbot(ctx context.Context, args map[string]interface{}, caps Capabilities) string {
	mode, _ := args["mode"].(string)
	if err := caps.Mopbot.Start(ctx, mode); err != nil {
		return "Failed to start mopbot: " + err.Error()
	}
	e.scheduleResync("mopbot", caps.Mopbot.Resync)
	return "Mopbot started."
}

func (e *Executor) handleStopMopbot(ctx context.Context, _ map[string]interface{}, caps Capabilities) string {
	if err := caps.Mopbot.Stop(ctx); err != nil {
		return "Failed to stop mopbot: " + err.Error()
	}
	e.scheduleResync("mopbot", caps.Mopbot.Resync)
	return "Mopbot stopped."
}

func (e *Executor) handleDockMopbot(ctx context.Context, _ map[string]interface{}, caps Capabilities) string {
	if err := caps.Mopbot.Dock(ctx); err != nil {
		return "Failed to dock mopbot: " + err.Error()
	}
	e.scheduleResync("mopbot", caps.Mopbot.Resync)
	return "Mopbot heading to dock."
}

func (e *Executor) handleGetMopbotStatus(ctx context.Context, _ map[string]interface{}, caps Capabilities) string {
	status, err := caps.Mopbot.Status(ctx)
	if err != nil {
		return "Failed to get mopbot status: " + err.Error()
	}
	return marshalSnapshot(status)
}

func (e *Executor) handleListEntities(ctx context.Context, args map[string]interface{}, caps Capabilities) string {
	entities, err := caps.Home.ListEntities(ctx)
	if err != nil {
		return "Failed to list entities: " + err.Error()
	}

	prefix, _ := args["prefix"].(string)
	domain, _ := args["domain"].(string)
	prefix = strings.TrimSpace(prefix)
	domain = strings.TrimSpace(strings.ToLower(domain))

	filtered := make([]devices.Entity, 0, len(entities))
	for _, ent := range entities {
		if prefix != "" && !strings.HasPrefix(ent.ID, prefix) {
			continue
		}
		if domain != "" && strings.ToLower(entityDomain(ent)) != domain {
			continue
		}
		filtered = append(filtered, ent)
	}

	buf, err := json.Marshal(filtered)
	if err != nil {
		return "Failed to list entities: " + err.Error()
	}
	return string(buf)
}

func (e *Executor) handleGetEntityState(ctx context.Context, args map[string]interface{}, caps Capabilities) string {
	entityID, _ := args["entity_id"].(string)
	state, err := caps.Home.EntityState(ctx, entityID)
	if err != nil {
		return "Failed to get state for " + entityID + ": " + err.Error()
	}
	return marshalSnapshot(state)
}

func (e *Executor) handleTurnOnEntity(ctx context.Context, args map[string]interface{}, caps Capabilities) string {
	entityID, _ := args["entity_id"].(string)
	if err := caps.Home.TurnOn(ctx, entityID); err != nil {
		return "Failed to turn on " + entityID + ": " + err.Error()
	}
	return "Turned on " + entityID + "."
}

func (e *Executor) handleTurnOffEntity(ctx context.Context, args map[string]interface{}, caps Capabilities) string {
	entityID, _ := args["entity_id"].(string)
	if err := caps.Home.TurnOff(ctx, entityID); err != nil {
		return "Failed to turn off " + entityID + ": " + err.Error()
	}
	return "Turned off " + entityID + "."
}

// entityDomain falls back to the entity-id prefix ("switch.kettle" → "switch")
// when the hub did not set a domain.
func entityDomain(ent devices.Entity) string {
	if ent.Domain != "" {
		return ent.Domain
	}
	if i := strings.IndexByte(ent.ID, '.'); i > 0 {
		return ent.ID[:i]
	}
	return ""
}

func marshalSnapshot(v map[string]interface{}) string {
	buf, err := json.Marshal(v)
	if err != nil {
		return "Failed to serialize status: " + err.Error()
	}
	return string(buf)
}
