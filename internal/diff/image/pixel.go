package image

import (
	"image"
	"image/color"
	"runtime"
	"sync"

	"golang.org/x/xerrors"
)

var (
	addedColor   = color.RGBA{R: 255, A: 255}
	removedColor = color.RGBA{B: 255, A: 255}
)

// PixelDiff compares two equally sized images pixel by pixel, counting the
// pixels that differ and tracking the largest per-channel delta.
type PixelDiff struct {
	workers int
}

func NewPixelDiff() *PixelDiff {
	// Use GOMAXPROCS instead of runtime.NumCPU() to consider cgroup.
	// https://tip.golang.org/doc/go1.25#container-aware-gomaxprocs
	return &PixelDiff{
		workers: runtime.GOMAXPROCS(0),
	}
}

type partial struct {
	differentPixels int
	maxDelta        int
}

// rowRange compares rows [startY, endY) relative to the top left of both images.
type rowRange func(startY int, endY int) partial

func (p *PixelDiff) Calculate(baseline image.Image, target image.Image) (*DiffResult, error) {
	baselineBounds := baseline.Bounds()
	targetBounds := target.Bounds()
	if baselineBounds.Dx() != targetBounds.Dx() || baselineBounds.Dy() != targetBounds.Dy() {
		return nil, xerrors.Errorf("failed to compare %v with %v: %w", baselineBounds.Size(), targetBounds.Size(), ErrSizeMismatch)
	}

	width := baselineBounds.Dx()
	height := baselineBounds.Dy()
	diff := image.NewRGBA(image.Rect(0, 0, width, height))

	if baseline == target || height == 0 || width == 0 {
		copyImage(diff, baseline)
		return &DiffResult{
			Image: diff,
		}, nil
	}

	var process rowRange
	baselineRGBA, baselineIsRGBA := baseline.(*image.RGBA)
	targetRGBA, targetIsRGBA := target.(*image.RGBA)
	baselineNRGBA, baselineIsNRGBA := baseline.(*image.NRGBA)
	targetNRGBA, targetIsNRGBA := target.(*image.NRGBA)

	switch {
	case baselineIsRGBA && targetIsRGBA:
		process = func(startY int, endY int) partial {
			return processPix(baselineRGBA.Pix, baselineRGBA.Stride, baselineRGBA.PixOffset(baselineBounds.Min.X, baselineBounds.Min.Y),
				targetRGBA.Pix, targetRGBA.Stride, targetRGBA.PixOffset(targetBounds.Min.X, targetBounds.Min.Y),
				diff, width, startY, endY)
		}
	case baselineIsNRGBA && targetIsNRGBA:
		process = func(startY int, endY int) partial {
			return processPix(baselineNRGBA.Pix, baselineNRGBA.Stride, baselineNRGBA.PixOffset(baselineBounds.Min.X, baselineBounds.Min.Y),
				targetNRGBA.Pix, targetNRGBA.Stride, targetNRGBA.PixOffset(targetBounds.Min.X, targetBounds.Min.Y),
				diff, width, startY, endY)
		}
	default:
		process = func(startY int, endY int) partial {
			return processGeneric(baseline, target, diff, width, startY, endY)
		}
	}

	numWorkers := p.workers
	if numWorkers < 1 {
		numWorkers = 1
	}
	if numWorkers > height {
		numWorkers = height
	}
	rowsPerWorker := height / numWorkers

	partials := make([]partial, numWorkers)
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		startY := i * rowsPerWorker
		endY := startY + rowsPerWorker
		if i == numWorkers-1 {
			endY = height
		}

		go func(i int, startY int, endY int) {
			defer wg.Done()
			partials[i] = process(startY, endY)
		}(i, startY, endY)
	}
	wg.Wait()

	result := &DiffResult{
		Image: diff,
	}
	for _, part := range partials {
		result.DifferentPixels += part.differentPixels
		result.MaxDelta = max(result.MaxDelta, part.maxDelta)
	}
	return result, nil
}

// ComparePixels returns the number of differing pixels and the maximum
// channel delta between baseline and target.
func (p *PixelDiff) ComparePixels(baseline image.Image, target image.Image) (int, int, error) {
	result, err := p.Calculate(baseline, target)
	if err != nil {
		return 0, 0, err
	}
	return result.DifferentPixels, result.MaxDelta, nil
}

// processPix walks two 4-bytes-per-pixel buffers in lock step. Both RGBA and
// NRGBA share this layout.
func processPix(baselinePix []uint8, baselineStride int, baselineOrigin int, targetPix []uint8, targetStride int, targetOrigin int, diff *image.RGBA, width int, startY int, endY int) partial {
	var local partial

	for y := startY; y < endY; y++ {
		baselineRow := baselinePix[baselineOrigin+y*baselineStride : baselineOrigin+y*baselineStride+width*4]
		targetRow := targetPix[targetOrigin+y*targetStride : targetOrigin+y*targetStride+width*4]
		diffRow := diff.Pix[y*diff.Stride : y*diff.Stride+width*4]

		for x := 0; x < width*4; x += 4 {
			br, bg, bb, ba := baselineRow[x], baselineRow[x+1], baselineRow[x+2], baselineRow[x+3]
			tr, tg, tb, ta := targetRow[x], targetRow[x+1], targetRow[x+2], targetRow[x+3]

			if br == tr && bg == tg && bb == tb && ba == ta {
				diffRow[x] = br
				diffRow[x+1] = bg
				diffRow[x+2] = bb
				diffRow[x+3] = ba
				continue
			}

			local.differentPixels++
			local.maxDelta = max(local.maxDelta, channelDelta(br, tr), channelDelta(bg, tg), channelDelta(bb, tb), channelDelta(ba, ta))

			c := diffColor(br, bg, bb, tr, tg, tb)
			diffRow[x] = c.R
			diffRow[x+1] = c.G
			diffRow[x+2] = c.B
			diffRow[x+3] = c.A
		}
	}

	return local
}

func processGeneric(baseline image.Image, target image.Image, diff *image.RGBA, width int, startY int, endY int) partial {
	var local partial
	baselineMin := baseline.Bounds().Min
	targetMin := target.Bounds().Min

	for y := startY; y < endY; y++ {
		for x := 0; x < width; x++ {
			b := color.RGBAModel.Convert(baseline.At(baselineMin.X+x, baselineMin.Y+y)).(color.RGBA)
			t := color.RGBAModel.Convert(target.At(targetMin.X+x, targetMin.Y+y)).(color.RGBA)

			if b == t {
				diff.SetRGBA(x, y, b)
				continue
			}

			local.differentPixels++
			local.maxDelta = max(local.maxDelta, channelDelta(b.R, t.R), channelDelta(b.G, t.G), channelDelta(b.B, t.B), channelDelta(b.A, t.A))
			diff.SetRGBA(x, y, diffColor(b.R, b.G, b.B, t.R, t.G, t.B))
		}
	}

	return local
}

func copyImage(dst *image.RGBA, src image.Image) {
	srcMin := src.Bounds().Min
	for y := 0; y < dst.Rect.Dy(); y++ {
		for x := 0; x < dst.Rect.Dx(); x++ {
			dst.Set(x, y, src.At(srcMin.X+x, srcMin.Y+y))
		}
	}
}

func channelDelta(a uint8, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

// diffColor marks pixels that got brighter red and pixels that got darker blue.
func diffColor(br uint8, bg uint8, bb uint8, tr uint8, tg uint8, tb uint8) color.RGBA {
	baselineBrightness := int(br) + int(bg) + int(bb)
	targetBrightness := int(tr) + int(tg) + int(tb)
	if targetBrightness < baselineBrightness {
		return removedColor
	}
	return addedColor
}
