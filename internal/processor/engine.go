package processor

import (
	"context"

	"github.com/firewatch/dashboard/internal/logger"
	"github.com/firewatch/dashboard/internal/metrics"
	"github.com/firewatch/dashboard/internal/models"
	"github.com/firewatch/dashboard/internal/pool"
	"github.com/google/uuid"
)

// Result is the outcome of evaluating one reading
type Result struct {
	Classification *models.Classification
	Outcome        Outcome
	Alert          *models.AlertRecord
}

// EvaluatorEngine runs readings through the evaluator and the lifecycle
// manager, and owns the worker pool used by background polling.
type EvaluatorEngine struct {
	evaluator    *ThresholdEvaluator
	stateManager *LifecycleManager
	workerPool   *pool.WorkerPool
}

func NewEvaluatorEngine(evaluator *ThresholdEvaluator, stateManager *LifecycleManager, workers, queueSize int) *EvaluatorEngine {
	return &EvaluatorEngine{
		evaluator:    evaluator,
		stateManager: stateManager,
		workerPool:   pool.NewWorkerPool(workers, queueSize),
	}
}

func (ee *EvaluatorEngine) Start(ctx context.Context) {
	logger.Info().Int("workers", ee.workerPool.GetWorkerCount()).Msg("Starting alert evaluator")
	ee.workerPool.Start(ctx)
}

// Evaluate classifies the reading and applies the result to the store
func (ee *EvaluatorEngine) Evaluate(ctx context.Context, locationID uuid.UUID, reading *models.SensorReading) (*Result, error) {
	c := ee.evaluator.Evaluate(reading)
	if c == nil {
		metrics.IncEvaluation("")
		return &Result{Outcome: OutcomeNone}, nil
	}
	metrics.IncEvaluation(string(c.Type))

	outcome, alert, err := ee.stateManager.Process(ctx, locationID, c, reading)
	if err != nil {
		return nil, err
	}
	return &Result{Classification: c, Outcome: outcome, Alert: alert}, nil
}

// GetStateManager returns the lifecycle manager
func (ee *EvaluatorEngine) GetStateManager() *LifecycleManager {
	return ee.stateManager
}

// GetWorkerPool returns the worker pool for background evaluations
func (ee *EvaluatorEngine) GetWorkerPool() *pool.WorkerPool {
	return ee.workerPool
}

func (ee *EvaluatorEngine) Stop() {
	ee.workerPool.Stop()
}
