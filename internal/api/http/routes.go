package httpapi

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/quarter-sensor-simulator/internal/scheduler"
	"github.com/i474232898/quarter-sensor-simulator/internal/sensors"
	"github.com/i474232898/quarter-sensor-simulator/internal/store"
	"github.com/i474232898/quarter-sensor-simulator/internal/weather"
)

var validate = validator.New()

// GroundTruthSource exposes the current ground truth (nil while absent).
type GroundTruthSource interface {
	Latest() *weather.GroundTruth
}

// StateSource exposes the coordinator lifecycle state.
type StateSource interface {
	State() scheduler.State
}

// Deps are the read-only views served by the API.
type Deps struct {
	GroundTruth GroundTruthSource
	Snapshots   *store.SnapshotCache
	State       StateSource
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	// A terminal coordinator reports 503 so supervisors see a live but stalled process.
	app.Get("/health", func(c *fiber.Ctx) error {
		state := deps.State.State()
		code := fiber.StatusOK
		if state == scheduler.StateTerminal {
			code = fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{
			"status":  state.String(),
			"service": "quarter-sensor-simulator",
		})
	})

	v1 := app.Group("/api/v1")

	v1.Get("/ground-truth", func(c *fiber.Ctx) error {
		gt := deps.GroundTruth.Latest()
		if gt == nil {
			return fiber.NewError(fiber.StatusNotFound, "no ground truth fetched yet")
		}
		return c.JSON(gt)
	})

	v1.Get("/snapshot", func(c *fiber.Ctx) error {
		var q snapshotQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		snap, err := deps.Snapshots.GetLatest()
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no snapshot published yet")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read snapshot")
		}

		return c.JSON(fiber.Map{
			"cycleId":     snap.CycleID,
			"publishedAt": snap.PublishedAt,
			"groundTruth": snap.GroundTruth,
			"partition":   q.Partition,
			"records":     q.pick(snap),
		})
	})
}

// snapshotQuery selects the full snapshot (0) or one partition (1 or 2).
type snapshotQuery struct {
	Partition int `validate:"gte=0,lte=2"`
}

func (q *snapshotQuery) bind(c *fiber.Ctx) error {
	raw := c.Query("partition")
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return errors.New("partition must be 0, 1 or 2")
	}
	q.Partition = n
	return nil
}

func (q snapshotQuery) pick(p store.Published) []sensors.Record {
	switch q.Partition {
	case 1:
		return p.Partition1
	case 2:
		return p.Partition2
	default:
		return p.Records
	}
}
