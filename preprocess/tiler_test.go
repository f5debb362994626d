package preprocess

import (
	"image"
	"testing"
)

func TestComputePositions(t *testing.T) {

	tiler := NewTiler(64, 64, 0.25)

	tests := []struct {
		srcLen     int
		tileLen    int
		expectPos  []int
		expectTile int
	}{
		{50, 64, []int{0}, 50},
		{64, 64, []int{0}, 64},
		{100, 64, []int{0, 36}, 64},
		{200, 64, []int{0, 45, 91, 136}, 64},
	}

	for _, tc := range tests {
		pos, tile := tiler.computePositions(tc.srcLen, tc.tileLen, 0.25)

		if tile != tc.expectTile {
			t.Errorf("srcLen %d: expected tile %d, got %d", tc.srcLen, tc.expectTile, tile)
		}

		if len(pos) != len(tc.expectPos) {
			t.Fatalf("srcLen %d: expected positions %v, got %v", tc.srcLen, tc.expectPos, pos)
		}

		for i := range pos {
			if pos[i] != tc.expectPos[i] {
				t.Errorf("srcLen %d: expected positions %v, got %v", tc.srcLen, tc.expectPos, pos)
				break
			}
		}

		// the last tile must end exactly at the source edge
		if last := pos[len(pos)-1] + tile; last != tc.srcLen {
			t.Errorf("srcLen %d: last tile ends at %d", tc.srcLen, last)
		}
	}
}

func TestTilesCoverImage(t *testing.T) {

	tiler := NewTiler(32, 32, 0.25)
	rects := tiler.Tiles(90, 40)

	covered := make([]bool, 90*40)

	for _, r := range rects {
		if r.Dx() != 32 || r.Dy() != 32 {
			t.Fatalf("unexpected tile size %v", r)
		}

		if !r.In(image.Rect(0, 0, 90, 40)) {
			t.Fatalf("tile %v outside image", r)
		}

		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				covered[y*90+x] = true
			}
		}
	}

	for i, c := range covered {
		if !c {
			t.Fatalf("pixel %d not covered", i)
		}
	}
}
