// Package memory provides an in-memory persistence implementation used by
// tests and local development. All repositories share one store guarded by
// a single RWMutex; compare-and-set updates are checked under the write
// lock, which gives the same first-writer-wins semantics the SQL
// implementation gets from guarded UPDATEs.
package memory

import (
	"context"
	"sync"

	"github.com/patchwell/overseer/pkg/models"
	"github.com/patchwell/overseer/pkg/persistence"
)

type store struct {
	mu sync.RWMutex

	definitions map[string]*models.WorkflowDefinition
	executions  map[string]*models.WorkflowExecution
	byEngineID  map[string]string // engine workflow id -> execution id
	steps       map[string]map[string]*models.StepExecution
	approvals   map[string]*models.ApprovalRequest
	byToken     map[string]string // token -> approval id
	logs        map[string][]*models.ExecutionLog
	logSeq      map[string]int64
}

// Persistence implements persistence.Persistence backed by process memory.
type Persistence struct {
	store *store

	definitionRepo *DefinitionRepository
	executionRepo  *ExecutionRepository
	stepRepo       *StepRepository
	approvalRepo   *ApprovalRepository
	logRepo        *LogRepository
}

// NewPersistence creates an empty in-memory persistence layer.
func NewPersistence() *Persistence {
	s := &store{
		definitions: make(map[string]*models.WorkflowDefinition),
		executions:  make(map[string]*models.WorkflowExecution),
		byEngineID:  make(map[string]string),
		steps:       make(map[string]map[string]*models.StepExecution),
		approvals:   make(map[string]*models.ApprovalRequest),
		byToken:     make(map[string]string),
		logs:        make(map[string][]*models.ExecutionLog),
		logSeq:      make(map[string]int64),
	}

	return &Persistence{
		store:          s,
		definitionRepo: &DefinitionRepository{store: s},
		executionRepo:  &ExecutionRepository{store: s},
		stepRepo:       &StepRepository{store: s},
		approvalRepo:   &ApprovalRepository{store: s},
		logRepo:        &LogRepository{store: s},
	}
}

func (p *Persistence) Definitions() persistence.DefinitionRepository {
	return p.definitionRepo
}

func (p *Persistence) Executions() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) Steps() persistence.StepRepository {
	return p.stepRepo
}

func (p *Persistence) Approvals() persistence.ApprovalRepository {
	return p.approvalRepo
}

func (p *Persistence) Logs() persistence.LogRepository {
	return p.logRepo
}

// HealthCheck always succeeds for the in-memory store.
func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

// Close releases nothing; memory persistence has no external resources.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}
