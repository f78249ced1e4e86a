package ingest

import "github.com/gf2influx/gf2influx/models"

// Partition groups points by the value of tag. Points without the tag land in
// models.UnknownPartition. Partitions are ordered by first appearance and keep
// the order of their points.
func Partition(points []models.Point, tag string) []models.Partition {
	var partitions []models.Partition
	index := make(map[string]int)
	for _, p := range points {
		key, ok := p.Tags[tag]
		if !ok || key == "" {
			key = models.UnknownPartition
		}
		i, ok := index[key]
		if !ok {
			i = len(partitions)
			index[key] = i
			partitions = append(partitions, models.Partition{Key: key})
		}
		partitions[i].Points = append(partitions[i].Points, p)
	}
	return partitions
}
