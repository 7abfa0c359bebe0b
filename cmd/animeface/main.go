// Scans a labelled image corpus and writes a gob index so training runs can skip the scan.
package main

import (
	"flag"
	"fmt"
	"sort"

	"github.com/jnb666/mirage/gan"
	"github.com/jnb666/mirage/img"
)

func main() {
	dataDir := flag.String("data", "", "image directory to scan")
	labelFile := flag.String("labels", "", "csv file with path,tag rows")
	minYear := flag.Int("min-year", 0, "drop images with a year suffix before this")
	outFile := flag.String("out", "animeface.idx", "index file to write")
	flag.Parse()
	if *dataDir == "" || *labelFile == "" {
		fmt.Println("usage: animeface -data <dir> -labels <file> [opts]")
		return
	}

	files, err := img.ScanImages(*dataDir)
	gan.CheckErr(err)
	fmt.Printf("scanned %d image files under %s\n", len(files), *dataDir)
	if *minYear > 0 {
		files = img.YearFilter(files, *minYear)
		fmt.Printf("%d files from year %d on\n", len(files), *minYear)
	}
	labels, err := img.LoadLabels(*labelFile)
	gan.CheckErr(err)

	ix := &img.Index{}
	counts := map[string]int{}
	for _, path := range files {
		tag, ok := labels[path]
		if !ok {
			continue
		}
		ix.Files = append(ix.Files, path)
		ix.Labels = append(ix.Labels, tag)
		counts[tag]++
	}
	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	fmt.Printf("%d labelled images in %d classes\n", len(ix.Files), len(tags))
	for _, tag := range tags {
		fmt.Printf("%-20s: %d\n", tag, counts[tag])
	}
	gan.CheckErr(img.SaveIndex(*outFile, ix))
	fmt.Println("saved index to", *outFile)
}
