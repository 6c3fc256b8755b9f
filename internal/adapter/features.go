package adapter

import (
	"context"
	"image"
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// featureStrips fixes the horizontal strip count for feature extraction.
// Strip boundaries feed the per-strip statistics, so the count must not
// follow GOMAXPROCS: identical input has to produce identical features on
// any machine.
const featureStrips = 8

// FeatureVector holds the shared per-request pixel statistics every scorer
// reads. Extracted once per request, immutable afterwards.
type FeatureVector struct {
	// Color statistics, normalized to [0,1].
	AvgLuminance  float64
	AvgSaturation float64
	SaturationVar float64
	ChannelMeans  [3]float64

	// High-frequency statistics. LaplacianVar is the mean per-strip
	// variance of the Laplacian response; LaplacianSpread is the variance
	// of that response across strips. Generated images tend to spread
	// their residual noise unnaturally evenly, pushing the spread down
	// while natural sensor noise keeps it high.
	LaplacianVar    float64
	LaplacianSpread float64

	// EdgeDensity is the fraction of interior pixels whose Sobel gradient
	// magnitude exceeds the edge threshold.
	EdgeDensity float64

	Width  int
	Height int
}

type stripStats struct {
	index    int
	pixels   int
	lumSum   float64
	satSum   float64
	satSqSum float64
	rSum     float64
	gSum     float64
	bSum     float64
	lapVar   float64
	lapCount int
	edges    int
	interior int
	err      error
}

// ExtractFeatures computes the shared feature vector with one parallel pass
// over fixed horizontal strips. Laplacian and Sobel responses stay inside
// strip interiors so the split never changes the numbers.
func ExtractFeatures(ctx context.Context, img *image.NRGBA) (*FeatureVector, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return &FeatureVector{}, nil
	}

	strips := featureStrips
	if height < strips {
		strips = height
	}
	rowsPerStrip := (height + strips - 1) / strips

	results := make(chan stripStats, strips)
	var wg sync.WaitGroup

	for i := 0; i < strips; i++ {
		startY := i * rowsPerStrip
		endY := startY + rowsPerStrip
		if endY > height {
			endY = height
		}
		wg.Add(1)
		go func(index, startY, endY int) {
			defer wg.Done()
			results <- computeStrip(ctx, img, index, startY, endY)
		}(i, startY, endY)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	// Re-order by strip index before folding: float accumulation is order
	// sensitive and the channel delivers in completion order.
	ordered := make([]stripStats, strips)
	for r := range results {
		ordered[r.index] = r
	}

	var (
		total       stripStats
		lumMeans    []float64
		satMeans    []float64
		lapVars     []float64
		pixelCounts []float64
		lapCounts   []float64
	)
	for _, r := range ordered {
		if r.err != nil {
			total.err = r.err
			continue
		}
		if r.pixels == 0 {
			continue
		}
		total.pixels += r.pixels
		total.satSqSum += r.satSqSum
		total.satSum += r.satSum
		total.rSum += r.rSum
		total.gSum += r.gSum
		total.bSum += r.bSum
		total.edges += r.edges
		total.interior += r.interior

		count := float64(r.pixels)
		lumMeans = append(lumMeans, r.lumSum/count)
		satMeans = append(satMeans, r.satSum/count)
		pixelCounts = append(pixelCounts, count)
		if r.lapCount > 0 {
			lapVars = append(lapVars, r.lapVar)
			lapCounts = append(lapCounts, float64(r.lapCount))
		}
	}
	if total.err != nil {
		return nil, total.err
	}
	if total.pixels == 0 {
		return &FeatureVector{Width: width, Height: height}, nil
	}

	count := float64(total.pixels)
	fv := &FeatureVector{
		AvgLuminance:  stat.Mean(lumMeans, pixelCounts),
		AvgSaturation: stat.Mean(satMeans, pixelCounts),
		ChannelMeans: [3]float64{
			total.rSum / count,
			total.gSum / count,
			total.bSum / count,
		},
		Width:  width,
		Height: height,
	}

	satMean := total.satSum / count
	fv.SaturationVar = total.satSqSum/count - satMean*satMean
	if fv.SaturationVar < 0 {
		fv.SaturationVar = 0
	}

	if len(lapVars) > 0 {
		fv.LaplacianVar = stat.Mean(lapVars, lapCounts)
		if len(lapVars) > 1 {
			fv.LaplacianSpread = stat.Variance(lapVars, lapCounts)
		}
	}
	if total.interior > 0 {
		fv.EdgeDensity = float64(total.edges) / float64(total.interior)
	}
	return fv, nil
}

// computeStrip gathers statistics for rows [startY, endY). The Laplacian
// and Sobel kernels only touch rows inside the strip.
func computeStrip(ctx context.Context, img *image.NRGBA, index, startY, endY int) stripStats {
	s := stripStats{index: index}
	bounds := img.Bounds()
	width := bounds.Dx()

	lum := make([]float64, 0, (endY-startY)*width)
	var lapSum, lapSqSum float64

	for y := startY; y < endY; y++ {
		if y%64 == 0 {
			if err := ctx.Err(); err != nil {
				s.err = err
				return s
			}
		}
		rowOff := img.PixOffset(bounds.Min.X, bounds.Min.Y+y)
		for x := 0; x < width; x++ {
			off := rowOff + x*4
			rf := float64(img.Pix[off]) / 255.0
			gf := float64(img.Pix[off+1]) / 255.0
			bf := float64(img.Pix[off+2]) / 255.0

			maxC := math.Max(rf, math.Max(gf, bf))
			minC := math.Min(rf, math.Min(gf, bf))
			sat := 0.0
			if maxC > 0 {
				sat = (maxC - minC) / maxC
			}
			l := 0.299*rf + 0.587*gf + 0.114*bf

			s.lumSum += l
			s.satSum += sat
			s.satSqSum += sat * sat
			s.rSum += rf
			s.gSum += gf
			s.bSum += bf
			s.pixels++
			lum = append(lum, l*255)
		}
	}

	// Second pass over the strip's luminance plane: Laplacian variance and
	// Sobel edge count on interior pixels only.
	rows := endY - startY
	for y := 1; y < rows-1; y++ {
		if y%64 == 0 {
			if err := ctx.Err(); err != nil {
				s.err = err
				return s
			}
		}
		for x := 1; x < width-1; x++ {
			center := lum[y*width+x]
			top := lum[(y-1)*width+x]
			bottom := lum[(y+1)*width+x]
			left := lum[y*width+x-1]
			right := lum[y*width+x+1]

			lap := -4*center + top + bottom + left + right
			lapSum += lap
			lapSqSum += lap * lap
			s.lapCount++

			gx := -lum[(y-1)*width+x-1] + lum[(y-1)*width+x+1] +
				-2*lum[y*width+x-1] + 2*lum[y*width+x+1] +
				-lum[(y+1)*width+x-1] + lum[(y+1)*width+x+1]
			gy := -lum[(y-1)*width+x-1] - 2*top - lum[(y-1)*width+x+1] +
				lum[(y+1)*width+x-1] + 2*bottom + lum[(y+1)*width+x+1]

			if math.Sqrt(gx*gx+gy*gy) > 100 {
				s.edges++
			}
			s.interior++
		}
	}
	if s.lapCount > 0 {
		mean := lapSum / float64(s.lapCount)
		s.lapVar = lapSqSum/float64(s.lapCount) - mean*mean
		if s.lapVar < 0 {
			s.lapVar = 0
		}
	}
	return s
}
