package img

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestYearFilter(t *testing.T) {
	files := []string{
		"faces/miku_2003.png",
		"faces/rin_2008.jpg",
		"faces/unknown.png",
		"faces/luka_2011.jpeg",
	}
	if year, err := YearFromPath(files[0]); err != nil || year != 2003 {
		t.Error("got", year, err)
	}
	if _, err := YearFromPath("faces/unknown.png"); err == nil {
		t.Error("expect error for file without a year suffix")
	}
	kept := YearFilter(files, 2005)
	expect := []string{"faces/rin_2008.jpg", "faces/luka_2011.jpeg"}
	if !reflect.DeepEqual(kept, expect) {
		t.Error("got", kept, "expect", expect)
	}
}

func TestVocab(t *testing.T) {
	v := NewVocab([]string{"miku", "rin", "miku", "len"})
	if !reflect.DeepEqual(v.Tags, []string{"len", "miku", "rin"}) {
		t.Fatal("got", v.Tags)
	}
	if ix := v.Index("miku"); ix != 1 {
		t.Error("Index(miku): got", ix)
	}
	if ix := v.Index("kaito"); ix != -1 {
		t.Error("Index(kaito): got", ix)
	}
	if enc := v.OneHot(2); !reflect.DeepEqual(enc, []float64{0, 0, 1}) {
		t.Error("OneHot(2): got", enc)
	}
	if enc := v.OneHot(-1); !reflect.DeepEqual(enc, []float64{0, 0, 0}) {
		t.Error("OneHot(-1): got", enc)
	}
}

func TestIndexRoundTrip(t *testing.T) {
	ix := &Index{
		Files:  []string{"a_2008.png", "b_2009.png", "c_2010.png"},
		Labels: []string{"miku", "rin", "miku"},
	}
	file := filepath.Join(t.TempDir(), "test.idx")
	if err := SaveIndex(file, ix); err != nil {
		t.Fatal(err)
	}
	ix2, err := LoadIndex(file)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ix, ix2) {
		t.Error("got", ix2, "expect", ix)
	}
	s := SetFromIndex(ix2, 8)
	if s.Len() != 3 || s.Classes() != 2 {
		t.Error("got", s.Len(), "images", s.Classes(), "classes")
	}
}

func TestSetBatch(t *testing.T) {
	dir := t.TempDir()
	labels := map[string]string{}
	var files []string
	for i, tag := range []string{"miku", "rin", "miku", "rin"} {
		m := testImage(10+i, 12)
		file := filepath.Join(dir, fmt.Sprintf("%s_200%d.png", tag, i))
		if err := SavePNG(file, m); err != nil {
			t.Fatal(err)
		}
		files = append(files, file)
		labels[file] = tag
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatal(err)
	}
	scanned, err := ScanImages(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(scanned) != len(files) {
		t.Fatal("scanned", len(scanned), "files - expect", len(files))
	}
	s := NewSet(scanned, labels, 8)
	if s.Len() != 4 || s.Classes() != 2 {
		t.Fatal("got", s.Len(), "images", s.Classes(), "classes")
	}
	s.Shuffle(rand.New(rand.NewSource(42)))
	images, oneHot, err := s.Batch(0, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual([]int(images.Shape()), []int{3, Channels, 8, 8}) {
		t.Error("bad image batch shape:", images.Shape())
	}
	if !reflect.DeepEqual([]int(oneHot.Shape()), []int{3, 2}) {
		t.Error("bad label batch shape:", oneHot.Shape())
	}
	for _, val := range images.Data().([]float64) {
		if val < -1 || val > 1 {
			t.Fatal("image values should be normalised to [-1,1]: got", val)
		}
	}
	for i := 0; i < 3; i++ {
		row := oneHot.Data().([]float64)[i*2 : i*2+2]
		if row[0]+row[1] != 1 {
			t.Error("labels should be one hot: got", row)
		}
	}
	// short final batch is truncated
	images, _, err = s.Batch(2, 5)
	if err != nil {
		t.Fatal(err)
	}
	if n := images.Shape()[0]; n != 2 {
		t.Error("expect truncated batch of 2 - got", n)
	}
}

func TestLoadLabels(t *testing.T) {
	file := filepath.Join(t.TempDir(), "labels.csv")
	data := "faces/a_2008.png,miku\nfaces/b_2009.png,rin\n"
	if err := os.WriteFile(file, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	labels, err := LoadLabels(file)
	if err != nil {
		t.Fatal(err)
	}
	if len(labels) != 2 || labels["faces/a_2008.png"] != "miku" {
		t.Error("got", labels)
	}
}
