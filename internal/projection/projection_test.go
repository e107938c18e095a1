package projection

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestPixelRoundTrip(t *testing.T) {
	points := []orb.Point{{0, 0}, {13.4, 52.5}, {-122.4, 37.77}, {179.9, -85}}
	for _, p := range points {
		for _, z := range []maptile.Zoom{0, 5, 12, 18} {
			x := LonToPixelX(p.Lon(), z)
			y := LatToPixelY(p.Lat(), z)
			lon := PixelXToLon(x, z)
			lat := PixelYToLat(y, z)
			if !almostEqual(lon, p.Lon(), 1e-9) || !almostEqual(lat, p.Lat(), 1e-6) {
				t.Errorf("z%d %v -> (%v, %v)", z, p, lon, lat)
			}
		}
	}
}

func TestPixelToTileClamps(t *testing.T) {
	if got := PixelToTile(-1, 3); got != 0 {
		t.Errorf("negative pixel -> %d", got)
	}
	if got := PixelToTile(MapSize(3)+10, 3); got != 7 {
		t.Errorf("overflow pixel -> %d", got)
	}
	if got := PixelToTile(511, 3); got != 1 {
		t.Errorf("pixel 511 -> %d", got)
	}
}

func TestVisibleTilesAligned(t *testing.T) {
	// centre on the corner shared by tiles (511,511)..(512,512) at zoom 10
	v := Viewport{
		Center: orb.Point{PixelXToLon(512*256, 10), PixelYToLat(512*256, 10)},
		Zoom:   10,
		Width:  512,
		Height: 512,
	}
	tiles := v.VisibleTiles()
	if len(tiles) != 4 {
		t.Fatalf("got %d tiles, want 4: %v", len(tiles), tiles)
	}
	want := []maptile.Tile{
		maptile.New(511, 511, 10),
		maptile.New(512, 511, 10),
		maptile.New(511, 512, 10),
		maptile.New(512, 512, 10),
	}
	for i := range want {
		if tiles[i] != want[i] {
			t.Errorf("tile %d = %v, want %v", i, tiles[i], want[i])
		}
	}
}

func TestViewportPixelsRoundTrip(t *testing.T) {
	v := Viewport{Center: orb.Point{11.5, 48.1}, Zoom: 14, Width: 800, Height: 600}

	x, y := v.ToPixels(v.Center)
	if !almostEqual(x, 400, 1e-6) || !almostEqual(y, 300, 1e-6) {
		t.Fatalf("centre at (%v, %v)", x, y)
	}

	p := v.FromPixels(123, 456)
	x, y = v.ToPixels(p)
	if !almostEqual(x, 123, 1e-6) || !almostEqual(y, 456, 1e-6) {
		t.Errorf("round trip = (%v, %v)", x, y)
	}

	b := v.Bound()
	if !b.Contains(v.Center) {
		t.Errorf("bound %v does not contain centre", b)
	}
}

func TestIntersects(t *testing.T) {
	v := Viewport{
		Center: orb.Point{PixelXToLon(512*256, 10), PixelYToLat(512*256, 10)},
		Zoom:   10,
		Width:  512,
		Height: 512,
	}
	if !v.Intersects(maptile.New(511, 511, 10)) {
		t.Error("visible tile reported outside")
	}
	if v.Intersects(maptile.New(513, 512, 10)) {
		t.Error("edge-adjacent tile reported inside")
	}
	if v.Intersects(maptile.New(511, 511, 11)) {
		t.Error("tile at other zoom reported inside")
	}
}

func TestMoveBy(t *testing.T) {
	v := Viewport{Center: orb.Point{0, 0}, Zoom: 4, Width: 100, Height: 100}
	moved := v.MoveBy(256, 0)
	cx, _ := moved.CenterPixel()
	ox, _ := v.CenterPixel()
	if !almostEqual(cx-ox, 256, 1e-6) {
		t.Errorf("moved by %v", cx-ox)
	}
}

func TestReproject(t *testing.T) {
	b := orb.Bound{Min: orb.Point{-1, -1}, Max: orb.Point{1, 1}}
	merc, err := ReprojectBound(b, WGS84, WebMercator)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(merc.Max.X(), 111319.49, 1) {
		t.Errorf("max x = %v", merc.Max.X())
	}
	back, err := ReprojectBound(merc, WebMercator, WGS84)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(back.Min.Lon(), -1, 1e-9) || !almostEqual(back.Max.Lat(), 1, 1e-9) {
		t.Errorf("round trip = %v", back)
	}

	if _, err := ReprojectBound(b, WGS84, SRID(2056)); err == nil {
		t.Error("expected error for unsupported srid")
	}

	line := orb.LineString{{0, 0}, {1, 1}}
	g, err := ReprojectGeometry(line, WGS84, WebMercator)
	if err != nil {
		t.Fatal(err)
	}
	if line[1][0] != 1 {
		t.Error("input geometry was modified")
	}
	if got := g.(orb.LineString)[1][0]; !almostEqual(got, 111319.49, 1) {
		t.Errorf("projected x = %v", got)
	}
}
