package geom

import "math"

// Epsilon is the tolerance below which vector lengths are treated as zero.
const Epsilon = 1e-9

// Vec3 is a position or direction in world space. Y is up.
type Vec3 struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
	Z float64 `json:"z" msgpack:"z"`
}

var (
	Zero = Vec3{}
	Up   = Vec3{Y: 1}
)

func V(x, y, z float64) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

func (v Vec3) Dot(o Vec3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		X: v.Y*o.Z - v.Z*o.Y,
		Y: v.Z*o.X - v.X*o.Z,
		Z: v.X*o.Y - v.Y*o.X,
	}
}

func (v Vec3) Len() float64 {
	return math.Sqrt(v.Dot(v))
}

// Distance returns the euclidean distance between two points.
func (v Vec3) Distance(o Vec3) float64 {
	return v.Sub(o).Len()
}

// Normalize returns the unit vector in the direction of v. The zero vector
// normalizes to itself.
func (v Vec3) Normalize() Vec3 {
	l := v.Len()
	if l < Epsilon {
		return Zero
	}
	return v.Scale(1 / l)
}

// IsZero reports whether the vector length is below Epsilon.
func (v Vec3) IsZero() bool {
	return v.Len() < Epsilon
}

// WithLength rescales v to the requested magnitude, keeping its direction.
func (v Vec3) WithLength(length float64) Vec3 {
	return v.Normalize().Scale(length)
}

// AngleBetween returns the unsigned angle in radians between two directions.
func AngleBetween(a, b Vec3) float64 {
	la, lb := a.Len(), b.Len()
	if la < Epsilon || lb < Epsilon {
		return 0
	}
	cos := a.Dot(b) / (la * lb)
	return math.Acos(clamp(cos, -1, 1))
}

// Reflect mirrors v about the plane with the given normal.
func Reflect(v, normal Vec3) Vec3 {
	n := normal.Normalize()
	return v.Sub(n.Scale(2 * v.Dot(n)))
}

// RotateTowards turns the unit direction from towards the unit direction to
// by at most maxAngle radians and returns the resulting unit direction.
func RotateTowards(from, to Vec3, maxAngle float64) Vec3 {
	f := from.Normalize()
	t := to.Normalize()
	if f.IsZero() {
		return t
	}
	if t.IsZero() || maxAngle <= 0 {
		return f
	}
	angle := AngleBetween(f, t)
	if angle <= maxAngle {
		return t
	}
	axis := f.Cross(t)
	if axis.IsZero() {
		// Antiparallel: any perpendicular axis works.
		axis = f.Cross(Up)
		if axis.IsZero() {
			axis = f.Cross(Vec3{X: 1})
		}
	}
	return rotateAbout(f, axis.Normalize(), maxAngle).Normalize()
}

// rotateAbout applies Rodrigues' rotation of v around the unit axis k.
func rotateAbout(v, k Vec3, angle float64) Vec3 {
	cos := math.Cos(angle)
	sin := math.Sin(angle)
	return v.Scale(cos).
		Add(k.Cross(v).Scale(sin)).
		Add(k.Scale(k.Dot(v) * (1 - cos)))
}

func clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
