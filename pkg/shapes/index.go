package shapes

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/travigo/travigo-eta/pkg/ctdf"
)

var ErrShapeNotFound = errors.New("shape not found")

// Index holds the published shapes. Readers take an immutable snapshot without locking,
// writers build a new map and swap it in.
type Index struct {
	snapshot atomic.Pointer[map[string]*ctdf.Shape]
	writer   sync.Mutex
}

type Window struct {
	From   float64
	To     float64
	Radius float64
}

func NewIndex() *Index {
	index := &Index{}
	empty := map[string]*ctdf.Shape{}
	index.snapshot.Store(&empty)

	return index
}

func (i *Index) shapes() map[string]*ctdf.Shape {
	return *i.snapshot.Load()
}

func (i *Index) Len() int {
	return len(i.shapes())
}

func (i *Index) Get(shapeRef string) (*ctdf.Shape, error) {
	shape, ok := i.shapes()[shapeRef]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrShapeNotFound, shapeRef)
	}

	return shape, nil
}

// Put publishes a single shape, replacing any previous version
func (i *Index) Put(shape *ctdf.Shape) error {
	_, err := i.Replace([]*ctdf.Shape{shape}, false)
	return err
}

// Replace publishes a set of shapes. When prune is set any shape not in the set is removed.
// It returns the identifiers of shapes whose geometry changed or were removed.
func (i *Index) Replace(shapes []*ctdf.Shape, prune bool) ([]string, error) {
	for _, shape := range shapes {
		if err := shape.Validate(); err != nil {
			return nil, err
		}
	}

	i.writer.Lock()
	defer i.writer.Unlock()

	current := i.shapes()
	next := make(map[string]*ctdf.Shape, len(current)+len(shapes))
	if !prune {
		for ref, shape := range current {
			next[ref] = shape
		}
	}

	var changed []string
	for _, shape := range shapes {
		existing, exists := current[shape.PrimaryIdentifier]
		if exists && sameGeometry(existing, shape) {
			next[shape.PrimaryIdentifier] = existing
			continue
		}

		next[shape.PrimaryIdentifier] = shape
		if exists {
			changed = append(changed, shape.PrimaryIdentifier)
		}
	}

	if prune {
		for ref := range current {
			if _, kept := next[ref]; !kept {
				changed = append(changed, ref)
			}
		}
	}

	i.snapshot.Store(&next)

	return changed, nil
}

func sameGeometry(a *ctdf.Shape, b *ctdf.Shape) bool {
	if a.Direction != b.Direction || len(a.Points) != len(b.Points) {
		return false
	}

	for index := range a.Points {
		pa, pb := a.Points[index], b.Points[index]
		if pa.DistanceAlong != pb.DistanceAlong ||
			pa.Location.Latitude() != pb.Location.Latitude() ||
			pa.Location.Longitude() != pb.Location.Longitude() {
			return false
		}
	}

	return true
}

func (i *Index) SegmentAt(shapeRef string, distance float64) (int, error) {
	shape, err := i.Get(shapeRef)
	if err != nil {
		return 0, err
	}

	return shape.SegmentAt(distance), nil
}

func (i *Index) DistanceOf(shapeRef string, pointIndex int) (float64, error) {
	shape, err := i.Get(shapeRef)
	if err != nil {
		return 0, err
	}

	if pointIndex < 0 || pointIndex >= len(shape.Points) {
		return 0, fmt.Errorf("shape %s has no point %d", shapeRef, pointIndex)
	}

	return shape.Points[pointIndex].DistanceAlong, nil
}

func (i *Index) PointsNear(shapeRef string, location ctdf.Location, window Window) ([]int, error) {
	shape, err := i.Get(shapeRef)
	if err != nil {
		return nil, err
	}

	return PointsNear(shape, location, window), nil
}

// PointsNear lists the segments overlapping the window's distance range whose closest point
// to the location is within the radius. A zero radius accepts every segment in range.
func PointsNear(shape *ctdf.Shape, location ctdf.Location, window Window) []int {
	if shape.SegmentCount() == 0 || window.To < window.From {
		return nil
	}

	radius := window.Radius
	if radius <= 0 {
		radius = math.Inf(1)
	}

	var segments []int
	for segment := shape.SegmentAt(window.From); segment < shape.SegmentCount(); segment++ {
		start, end := shape.SegmentBounds(segment)
		if start > window.To {
			break
		}
		if end < window.From {
			continue
		}

		_, deviation := location.ProjectOntoLine(shape.Points[segment].Location, shape.Points[segment+1].Location)
		if deviation <= radius {
			segments = append(segments, segment)
		}
	}

	return segments
}
