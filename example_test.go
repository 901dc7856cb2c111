package flashsearch_test

import (
	"context"
	"fmt"
	"log"

	"github.com/hupe1980/flashsearch"
	"github.com/hupe1980/flashsearch/vecdb"
)

func Example() {
	s, err := flashsearch.New()
	if err != nil {
		log.Fatal(err)
	}
	defer s.Close()

	db := &vecdb.Matrix{
		Data: []float32{
			1, 0,
			0, 1,
			1, 1,
		},
		Dims: 2,
	}

	result, err := s.Search(context.Background(), db, []float32{2, 1}, 2)
	if err != nil {
		log.Fatal(err)
	}

	for i := range result.Values {
		fmt.Printf("row %d score %v\n", result.Indices[i], result.Values[i])
	}
	// Output:
	// row 2 score 3
	// row 0 score 2
}
