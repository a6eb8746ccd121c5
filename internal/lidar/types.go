// Package lidar defines the core record types shared by the wire codec,
// the ingestion service, the detection pipeline, and the recorder.
package lidar

// Point is a single range return within a scan frame, expressed in the
// sensor's Cartesian frame.
type Point struct {
	X          float32 // meters, right of sensor
	Y          float32 // meters, forward of sensor
	Z          float32 // meters, above sensor
	Intensity  float32 // laser return intensity
	TimeOffset float32 // seconds relative to the scan stamp
	Ring       uint32  // laser channel that produced the return
}

// ScanFrame is one complete set of range returns published at a single
// sensor timestamp. One scan corresponds to exactly one wire message.
type ScanFrame struct {
	Stamp      float64 // sensor clock, seconds
	ID         uint32  // monotonically increasing scan id
	ValidCount uint32  // number of points carried; len(Points) == ValidCount
	Points     []Point
}

// Clone returns a deep copy of the frame. Cache readers and recorder
// buffers hold copies so the receive loop can reuse its own storage.
func (s ScanFrame) Clone() ScanFrame {
	out := s
	if s.Points != nil {
		out.Points = make([]Point, len(s.Points))
		copy(out.Points, s.Points)
	}
	return out
}

// ImuSample is one inertial measurement published by the sensor. All
// fields are value types, so ordinary assignment copies the sample.
type ImuSample struct {
	Stamp              float64    // sensor clock, seconds
	ID                 uint32     // monotonically increasing sample id
	Quaternion         [4]float32 // orientation (x, y, z, w)
	AngularVelocity    [3]float32 // rad/s
	LinearAcceleration [3]float32 // m/s²
}
