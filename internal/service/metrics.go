package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики жизненного цикла файлов.
var (
	// operationsTotal — операции над файлами по типу и результату.
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fs_operations_total",
		Help: "Общее количество операций над файлами",
	}, []string{"operation", "result"})

	// uploadedBytesTotal — объём загруженных данных.
	uploadedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_uploaded_bytes_total",
		Help: "Общий объём загруженных файлов в байтах",
	})

	// compensationsTotal — компенсирующие удаления blob после сбоя вставки записи.
	compensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fs_create_compensations_total",
		Help: "Количество компенсирующих удалений blob при создании",
	}, []string{"result"})

	// corruptRecordsTotal — записи, у которых не нашлось blob.
	corruptRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_corrupt_records_total",
		Help: "Количество обнаруженных записей без содержимого",
	})
)
