package domain

import (
	"reflect"
	"strings"
	"testing"
)

func TestCandidatesRoundTrip(t *testing.T) {
	task := Task{
		URL: "https://host.example/video/42",
		Variants: []Variant{
			{Tag: "1080p", URL: "https://cdn.example/a/1080/index.m3u8?sig=x|y"},
			{Tag: "720|p", URL: "https://cdn.example/a/720/index.m3u8"},
		},
		Images: []string{"https://cdn.example/img/1.jpg", "https://cdn.example/img/2.jpg"},
	}

	got := TaskFromCandidates(task.URL, task.Candidates())

	if len(got.Variants) != 2 || len(got.Images) != 2 {
		t.Fatalf("unexpected shape: %+v", got)
	}
	if got.Variants[0] != task.Variants[0] {
		t.Errorf("Expected %+v, got %+v", task.Variants[0], got.Variants[0])
	}
	if got.Variants[1].Tag != "720_p" || got.Variants[1].URL != task.Variants[1].URL {
		t.Errorf("separator in tag not escaped: %+v", got.Variants[1])
	}
	if !reflect.DeepEqual(got.Images, task.Images) {
		t.Errorf("Expected images %v, got %v", task.Images, got.Images)
	}
}

func TestTaskFromCandidatesBareURL(t *testing.T) {
	got := TaskFromCandidates("u", []string{"https://cdn.example/x.png", "", "stream|broken"})
	if len(got.Images) != 1 || got.Images[0] != "https://cdn.example/x.png" {
		t.Errorf("bare URL should be an image, got %+v", got)
	}
	if len(got.Variants) != 0 {
		t.Errorf("malformed stream entry should be skipped, got %+v", got.Variants)
	}
}

func TestCalculateFileHash(t *testing.T) {
	sum, err := CalculateFileHash(strings.NewReader("abc"))
	if err != nil {
		t.Fatal(err)
	}
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if sum != want {
		t.Errorf("Expected %s, got %s", want, sum)
	}
}
