package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/yukikurage/task-hierarchy-api/internal/models"
	"github.com/yukikurage/task-hierarchy-api/internal/repository"
	"gorm.io/gorm"
)

// TaskNode is one task of a subtree together with its loaded children
type TaskNode struct {
	Task     models.Task
	Children []*TaskNode
}

// resolveParent loads the parent referenced by parentID. A nil or empty id
// means a root task: no parent and level 0.
func resolveParent(ctx context.Context, tasks repository.TaskRepository, parentID *string) (*models.Task, int, error) {
	if parentID == nil || *parentID == "" {
		return nil, 0, nil
	}

	parent, err := tasks.FindByID(ctx, *parentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrParentNotFound
		}
		return nil, 0, fmt.Errorf("failed to find parent task: %w", err)
	}

	return parent, parent.Level + 1, nil
}

// checkReparent validates moving task under newParentID and returns the level
// the task will have afterwards. It walks the new parent's ancestor chain up to
// the root and fails with ErrCyclicReference if task appears in it. Nothing is
// written.
func checkReparent(ctx context.Context, tasks repository.TaskRepository, task *models.Task, newParentID string) (int, error) {
	if newParentID == "" {
		return 0, nil
	}
	if newParentID == task.ID {
		return 0, ErrCyclicReference
	}

	parent, level, err := resolveParent(ctx, tasks, &newParentID)
	if err != nil {
		return 0, err
	}

	visited := map[string]struct{}{}
	current := parent
	for {
		if current.ID == task.ID {
			return 0, ErrCyclicReference
		}
		if _, seen := visited[current.ID]; seen {
			// the stored chain already loops; never attach anything to it
			return 0, ErrCyclicReference
		}
		visited[current.ID] = struct{}{}

		if current.IsRoot() {
			break
		}

		next, err := tasks.FindByID(ctx, *current.ParentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				break
			}
			return 0, fmt.Errorf("failed to walk ancestors: %w", err)
		}
		current = next
	}

	return level, nil
}

// propagateLevels re-derives the level of every descendant of task from its
// own parent's level, one tree depth per iteration of the work queue.
func propagateLevels(ctx context.Context, tasks repository.TaskRepository, task *models.Task) error {
	visited := map[string]struct{}{task.ID: {}}
	frontier := []string{task.ID}
	level := task.Level

	for len(frontier) > 0 {
		level++
		if err := tasks.SetLevelForChildren(ctx, frontier, level); err != nil {
			return fmt.Errorf("failed to update descendant levels: %w", err)
		}

		childIDs, err := tasks.FindChildIDs(ctx, frontier)
		if err != nil {
			return fmt.Errorf("failed to load descendants: %w", err)
		}

		next := make([]string, 0, len(childIDs))
		for _, id := range childIDs {
			if _, seen := visited[id]; seen {
				continue
			}
			visited[id] = struct{}{}
			next = append(next, id)
		}
		frontier = next
	}

	return nil
}

// descendantIDs returns the IDs of every task below rootID, breadth first
func descendantIDs(ctx context.Context, tasks repository.TaskRepository, rootID string) ([]string, error) {
	visited := map[string]struct{}{rootID: {}}
	var result []string
	frontier := []string{rootID}

	for len(frontier) > 0 {
		childIDs, err := tasks.FindChildIDs(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("failed to load descendants: %w", err)
		}

		next := make([]string, 0, len(childIDs))
		for _, id := range childIDs {
			if _, seen := visited[id]; seen {
				continue
			}
			visited[id] = struct{}{}
			next = append(next, id)
		}
		result = append(result, next...)
		frontier = next
	}

	return result, nil
}

// buildTree loads the full subtree below root breadth first
func buildTree(ctx context.Context, tasks repository.TaskRepository, root models.Task) (*TaskNode, error) {
	rootNode := &TaskNode{Task: root}
	visited := map[string]struct{}{root.ID: {}}
	queue := []*TaskNode{rootNode}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		children, err := tasks.FindChildren(ctx, node.Task.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load children: %w", err)
		}

		for _, child := range children {
			if _, seen := visited[child.ID]; seen {
				continue
			}
			visited[child.ID] = struct{}{}

			childNode := &TaskNode{Task: child}
			node.Children = append(node.Children, childNode)
			queue = append(queue, childNode)
		}
	}

	return rootNode, nil
}

// ancestorsOf returns the ancestor chain of task, root first
func ancestorsOf(ctx context.Context, tasks repository.TaskRepository, task *models.Task) ([]models.Task, error) {
	var chain []models.Task
	visited := map[string]struct{}{task.ID: {}}
	current := task

	for !current.IsRoot() {
		parent, err := tasks.FindByID(ctx, *current.ParentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				break
			}
			return nil, fmt.Errorf("failed to load ancestor: %w", err)
		}
		if _, seen := visited[parent.ID]; seen {
			break
		}
		visited[parent.ID] = struct{}{}

		chain = append(chain, *parent)
		current = parent
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	return chain, nil
}
