package model

type ClusterView struct {
	ID    int      `json:"id"`
	Paths []string `json:"paths"`
	Size  int      `json:"size"`
}

type ClusterResult struct {
	Clusters []ClusterView `json:"clusters"`
	Noise    []string      `json:"noise"`
}
