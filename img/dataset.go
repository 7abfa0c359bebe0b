package img

import (
	"encoding/csv"
	"encoding/gob"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gorgonia.org/tensor"
)

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// ScanImages returns the sorted list of image files under dir.
func ScanImages(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && imageExts[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// YearFromPath extracts the year suffix from a file named <name>_<year>.<ext>
func YearFromPath(path string) (int, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	fields := strings.Split(name, "_")
	return strconv.Atoi(fields[len(fields)-1])
}

// YearFilter keeps files whose year suffix is at least minYear, dropping any without one.
func YearFilter(files []string, minYear int) []string {
	var kept []string
	for _, path := range files {
		if year, err := YearFromPath(path); err == nil && year >= minYear {
			kept = append(kept, path)
		}
	}
	return kept
}

// LoadLabels reads a csv file with "path","tag" rows and returns the path to tag mapping.
func LoadLabels(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("error reading labels from %s: %s", path, err)
	}
	labels := make(map[string]string, len(rows))
	for _, row := range rows {
		if len(row) >= 2 {
			labels[row[0]] = row[1]
		}
	}
	return labels, nil
}

// Vocab is the sorted set of unique label tags with one hot encoding.
type Vocab struct {
	Tags  []string
	index map[string]int
}

func NewVocab(tags []string) *Vocab {
	set := map[string]bool{}
	for _, tag := range tags {
		set[tag] = true
	}
	v := &Vocab{index: make(map[string]int, len(set))}
	for tag := range set {
		v.Tags = append(v.Tags, tag)
	}
	sort.Strings(v.Tags)
	for i, tag := range v.Tags {
		v.index[tag] = i
	}
	return v
}

func (v *Vocab) Len() int { return len(v.Tags) }

// Index returns the class number for the given tag, or -1 if unknown.
func (v *Vocab) Index(tag string) int {
	if i, ok := v.index[tag]; ok {
		return i
	}
	return -1
}

// OneHot encodes the class number as a vector with a single 1 entry.
func (v *Vocab) OneHot(class int) []float64 {
	enc := make([]float64, v.Len())
	if class >= 0 && class < v.Len() {
		enc[class] = 1
	}
	return enc
}

// Set is a labelled image corpus which loads and resizes images on demand.
type Set struct {
	Files  []string
	Labels []int
	Vocab  *Vocab
	Size   int
	index  []int
}

// NewSet builds the data set from the file list and path to tag labels, skipping unlabelled files.
func NewSet(files []string, labels map[string]string, size int) *Set {
	var tags []string
	for _, path := range files {
		if tag, ok := labels[path]; ok {
			tags = append(tags, tag)
		}
	}
	vocab := NewVocab(tags)
	s := &Set{Vocab: vocab, Size: size}
	for _, path := range files {
		tag, ok := labels[path]
		if !ok {
			continue
		}
		s.Files = append(s.Files, path)
		s.Labels = append(s.Labels, vocab.Index(tag))
	}
	s.resetIndex()
	return s
}

func (s *Set) resetIndex() {
	s.index = make([]int, len(s.Files))
	for i := range s.index {
		s.index[i] = i
	}
}

func (s *Set) Len() int { return len(s.Files) }

func (s *Set) Classes() int { return s.Vocab.Len() }

// Shape returns channels, height, width for one sample.
func (s *Set) Shape() []int { return []int{Channels, s.Size, s.Size} }

// Shuffle randomises the sample order used by Batch.
func (s *Set) Shuffle(rng *rand.Rand) {
	s.index = rng.Perm(len(s.Files))
}

// Batch decodes and resizes a minibatch of n samples starting at sample start, returning the
// image batch with shape (n, channels, size, size) and one hot labels with shape (n, classes).
// Images are loaded in parallel using one worker per core.
func (s *Set) Batch(start, n int) (images, labels *tensor.Dense, err error) {
	if start+n > s.Len() {
		n = s.Len() - start
	}
	nfeat := Channels * s.Size * s.Size
	xData := make([]float64, n*nfeat)
	yData := make([]float64, n*s.Classes())
	var wg sync.WaitGroup
	queue := make(chan int, n)
	errc := make(chan error, n)
	for w := 0; w < runtime.GOMAXPROCS(0); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				ix := s.index[start+i]
				m, err := Load(s.Files[ix])
				if err != nil {
					errc <- err
					continue
				}
				m = m.Scale(s.Size).Resize(s.Size, s.Size)
				for j, val := range m.Pix {
					xData[i*nfeat+j] = val*2 - 1
				}
				copy(yData[i*s.Classes():], s.Vocab.OneHot(s.Labels[ix]))
			}
		}()
	}
	for i := 0; i < n; i++ {
		queue <- i
	}
	close(queue)
	wg.Wait()
	select {
	case err = <-errc:
		return nil, nil, err
	default:
	}
	images = tensor.New(tensor.WithShape(n, Channels, s.Size, s.Size), tensor.WithBacking(xData))
	labels = tensor.New(tensor.WithShape(n, s.Classes()), tensor.WithBacking(yData))
	return images, labels, nil
}

// Index is the persisted form of a scanned corpus so that training runs can skip the directory scan.
type Index struct {
	Files  []string
	Labels []string
}

// SaveIndex writes the corpus index to file in gob format.
func SaveIndex(path string, ix *Index) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(ix)
}

// LoadIndex reads a corpus index previously written with SaveIndex.
func LoadIndex(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ix := new(Index)
	if err := gob.NewDecoder(f).Decode(ix); err != nil {
		return nil, fmt.Errorf("error decoding index %s: %s", path, err)
	}
	return ix, nil
}

// SetFromIndex builds a data set from a saved index.
func SetFromIndex(ix *Index, size int) *Set {
	labels := make(map[string]string, len(ix.Files))
	for i, path := range ix.Files {
		labels[path] = ix.Labels[i]
	}
	return NewSet(ix.Files, labels, size)
}
