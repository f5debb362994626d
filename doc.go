/*
go-wagonocr restores motion blurred images of railway wagons and reads their
identification numbers.

Frames are passed through a vehicle detector, each detected wagon is cropped,
deblurred by a NAFNet style restoration network and read by a text recogniser
under several preprocessing variants.  A greedy IoU tracker follows wagons
across the frame sequence and settles on one number per wagon by confidence
weighted voting.

The restoration network is trained with the train package and the binaries
under cmd provide training, deblurring, evaluation and the full pipeline.
*/
package wagonocr
